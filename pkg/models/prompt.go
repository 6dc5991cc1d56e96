package models

// Prompt is one user-issued prompt within a session.
type Prompt struct {
	SessionID      string `json:"session_id"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
	ID             int64  `json:"id"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
	PromptNumber   int    `json:"prompt_number"`
}
