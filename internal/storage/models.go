package storage

import "time"

// Avatar is one customer persona attached to a profile.
type Avatar struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Profile is a structured description of a business used to seed chat
// system prompts. List-valued fields are stored as JSON text columns.
type Profile struct {
	ID             int64
	Name           string
	BusinessName   string
	Website        string
	Niche          string
	Audience       string
	Offer          string
	Tone           string
	ForbiddenWords []string
	Features       []string
	Avatars        []Avatar
	Goals          []string
	SOPs           []string
	CustomFields   map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Prompt is one saved prompt-library entry.
type Prompt struct {
	ID        int64
	Title     string
	Body      string
	Category  string
	CreatedAt time.Time
}

// ChatMessage is one persisted conversation turn, scoped to a profile.
type ChatMessage struct {
	ID        int64
	ProfileID int64
	Role      string
	Content   string
	Provider  string
	Model     string
	CreatedAt time.Time
}
