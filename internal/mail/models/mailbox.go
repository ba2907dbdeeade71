package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// There is no mailbox table. A mailbox is just a name, and it exists for
// as long as some unexpired mail or address record refers to it.

// One row per (mailbox, mail) pair. The autoincrement id gives the
// insertion order used for most-recent-first listings.
type MailboxEntry struct {
	bun.BaseModel `bun:"table:mailbox_entries,alias:e"`

	ID        int64  `bun:",pk,autoincrement"`
	Mailbox   string `bun:",notnull"`
	MailID    string `bun:",notnull"`
	Important bool   `bun:",notnull"`
}

// An address handed out by the address generator. It expires on its own
// schedule, independent of the mails delivered to it.
type Address struct {
	bun.BaseModel `bun:"table:addresses,alias:a"`

	LocalPart string    `bun:",pk"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	ExpiresAt int64     `bun:",notnull"`
}

// Normalizes a mailbox name.
// TODO: It should also deal with unicode characters.
func NormalizeMailbox(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	return name
}
