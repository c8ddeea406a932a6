package store

import "time"

type Profile struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	Username string `json:"username" validate:"required,max=128"`
	Email    string `json:"email" validate:"required,email,max=254"`
}

type ChatRecord struct {
	ID        int64     `json:"id"` // Assigned by AppendChat
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}
