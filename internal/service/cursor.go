package service

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor marks a position in the created_at/id ordering of a user's links.
// Callers hold it as an opaque token between pages; the id breaks ties when
// two links share a creation timestamp.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func (c Cursor) Encode() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, &ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	c := Cursor{}
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	if c.ID == "" {
		return nil, &ValidationError{Field: "cursor", Reason: "missing position"}
	}
	return &c, nil
}
