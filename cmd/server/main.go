package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gwi.com/answer-engine/internal/api"
	"gwi.com/answer-engine/internal/auth"
	"gwi.com/answer-engine/internal/config"
	"gwi.com/answer-engine/internal/core"
	"gwi.com/answer-engine/internal/store"
)

func main() {
	// Helper for producing AUTH_USERS entries
	hashPassword := flag.String("hash-password", "", "Print the bcrypt hash of the given password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server exiting gracefully")
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if strings.EqualFold(format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Debug().Msg("Service starting in DEBUG mode")
}

func newAuthenticator(spec string) (auth.Authenticator, error) {
	if spec == "" {
		log.Warn().Msg("AUTH_USERS is not set; every login is accepted and the username becomes the token subject")
		return auth.AllowAll{}, nil
	}
	return auth.ParseStaticCredentials(spec)
}

func newGenerator(cfg config.Config, llm *core.LLMService) core.Generator {
	if cfg.GenerationProvider == config.ProviderOpenAI {
		log.Info().Str("model", cfg.GenerationModel).Msg("Using OpenAI generation backend")
		return core.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.GenerationModel, "")
	}
	return llm
}

func run(cfg config.Config) error {
	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	authenticator, err := newAuthenticator(cfg.AuthUsers)
	if err != nil {
		return err
	}

	// Initialize LLM service (embeddings, and generation unless OpenAI is selected)
	chatModel := ""
	if cfg.GenerationProvider == config.ProviderGemini {
		chatModel = cfg.GenerationModel
	}
	llmService, err := core.NewLLMService(context.Background(), cfg.GeminiAPIKey, chatModel, cfg.EmbeddingModel)
	if err != nil {
		return err
	}
	defer llmService.Close()

	searcher := core.NewTavilySearch(cfg.TavilyAPIKey, "", cfg.SearchMaxResults, nil)
	ranker := core.NewEmbeddingRanker(llmService, cfg.RankThreshold, cfg.RankConcurrency, cfg.EmbedRatePerSec)

	chatService := core.NewChatService(dbStore, dbStore, searcher, ranker, newGenerator(cfg, llmService), core.ChatServiceOptions{
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		GenerationTimeout:   cfg.GenerationTimeout,
	})

	// Initialize API Handler and Router
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	apiHandler := api.NewAPIHandler(chatService, tokens, authenticator)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // Single-shot chat waits for the full generation
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serverAddr).Msg("Starting server. Press Ctrl+C to quit.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		return nil
	case <-quit:
	}
	log.Info().Msg("Shutting down server...")

	// Active connections get this long to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
