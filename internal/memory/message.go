// Package memory implements per-session conversation state: a token-bounded
// rolling buffer, a confidence-ranked fact store, prioritized context blocks,
// and the registry that owns one partition of each per session.
package memory

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	TokenEstimate int       `json:"token_estimate"`
	CreatedAt     time.Time `json:"created_at"`
	Active        bool      `json:"active"`
}

// EstimateTokens approximates model context cost as ceil(len/4).
// Deterministic by construction; the buffer invariant depends on it.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
