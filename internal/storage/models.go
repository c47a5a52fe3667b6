package storage

import (
	"time"
)

// Session is the persisted login state. User is the backend's user record
// with the token merged in, kept as a free-form map because the backend
// returns arbitrary profile fields.
type Session struct {
	Token     string                 `json:"token"`
	Account   string                 `json:"account"`
	User      map[string]interface{} `json:"user"`
	CreatedAt time.Time              `json:"created_at"`
}

// UserToken returns the token embedded in the user record, if any.
func (s *Session) UserToken() string {
	if s == nil || s.User == nil {
		return ""
	}
	if tok, ok := s.User["token"].(string); ok {
		return tok
	}
	return ""
}

// ReadMark records that a news item was opened in the reader.
type ReadMark struct {
	ItemID string    `json:"item_id"`
	ReadAt time.Time `json:"read_at"`
}
