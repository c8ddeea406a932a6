package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gwi.com/answer-engine/internal/core"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator resolves a username/password pair to a token subject.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// AllowAll accepts any credentials and uses the username as the subject.
type AllowAll struct{}

func (AllowAll) Authenticate(_ context.Context, username, _ string) (string, error) {
	if username == "" {
		return "", core.E(core.KindUnauthorized, "auth.Authenticate", ErrInvalidCredentials)
	}
	return username, nil
}

// StaticCredentials checks passwords against a fixed set of bcrypt hashes.
type StaticCredentials struct {
	hashes map[string][]byte
}

// ParseStaticCredentials parses "user:hash,user:hash". Hashes may contain ':'
// only after the first separator.
func ParseStaticCredentials(spec string) (*StaticCredentials, error) {
	sc := &StaticCredentials{hashes: map[string][]byte{}}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, hash, ok := strings.Cut(entry, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("malformed AUTH_USERS entry %q", entry)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("AUTH_USERS entry for %q is not a bcrypt hash: %w", user, err)
		}
		sc.hashes[user] = []byte(hash)
	}
	if len(sc.hashes) == 0 {
		return nil, fmt.Errorf("AUTH_USERS contains no entries")
	}
	return sc, nil
}

func (s *StaticCredentials) Authenticate(_ context.Context, username, password string) (string, error) {
	hash, ok := s.hashes[username]
	if !ok || !CheckPasswordHash(password, string(hash)) {
		return "", core.E(core.KindUnauthorized, "auth.Authenticate", ErrInvalidCredentials)
	}
	return username, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
