package domain

import "time"

// Role identifies the producer of a conversation entry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleDiagnostic Role = "diagnostic"
)

// Message is one rendered conversation entry. Block carries preformatted
// structured content (indented JSON) shown beneath Text.
type Message struct {
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Block     string    `json:"block,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
