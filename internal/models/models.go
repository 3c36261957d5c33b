package models

import "time"

const RoleAdmin = "admin"

// Profile is the per-user row backing authentication, the credit ledger and
// the admin panel.
type Profile struct {
	ID                 string
	Email              string
	PasswordHash       string
	Credits            int
	IsPro              bool
	Role               string
	LastCreditRewardAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GenerationLog is the server-side audit record of a successful generation.
type GenerationLog struct {
	ID        int64
	ProfileID string
	Model     string
	Prompt    string
	CreatedAt time.Time
}

// HordeModel is one entry from the model listing endpoint.
type HordeModel struct {
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	Performance float64 `json:"performance"`
	Queued      float64 `json:"queued"`
	Jobs        float64 `json:"jobs"`
	Type        string  `json:"type"`
	ETA         int     `json:"eta"`
}

// HistoryItem is one locally persisted record of a past generation.
type HistoryItem struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model"`
	ImageURL  string    `json:"imageUrl"`
	Timestamp time.Time `json:"timestamp"`
}
