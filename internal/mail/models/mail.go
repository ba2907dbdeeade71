package models

import (
	"time"

	"github.com/uptrace/bun"
)

// A decomposed inbound message. Everything apart from Important and
// ExpiresAt is fixed once the message has been stored.
type Mail struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID      string `bun:",pk"`
	Subject string
	From    string `bun:"sender"`

	// Every To and Cc token in header order, duplicates included.
	To []string `bun:"recipients"`
	// Lower-cased local parts that belong to the served domain.
	LocalParts []string

	Headers     map[string]string
	Text        string
	HTML        string `bun:"html"`
	Attachments []Attachment

	Important  bool      `bun:",notnull"`
	ReceivedAt time.Time `bun:",notnull"`

	// Unix milliseconds after which the message is gone, whether or not
	// the reaper has deleted the row yet.
	ExpiresAt int64 `bun:",notnull"`
}

// Attachment metadata. Content is only kept for small attachments, the
// size is always the exact decoded length.
type Attachment struct {
	Filename    *string `json:"filename"`
	ContentType string  `json:"contentType"`
	Size        int64   `json:"size"`
	ContentB64  *string `json:"contentB64,omitempty"`
}

func (m *Mail) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Returns the time at which the message expires.
func (m *Mail) Expiry() time.Time {
	return time.UnixMilli(m.ExpiresAt).UTC()
}
