package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/utils"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("store unavailable")
	ErrAddressTaken = errors.New("address is already taken")
)

// A time bounded store of decomposed mails, indexed by mailbox. Anything
// past its expiry is invisible to every read, the reaper only reclaims
// the space.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

type Option func(*Store)

// Replaces the wall clock the store uses to compute and check expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(db *bun.DB, options ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, option := range options {
		option(s)
	}
	return s
}

// Opens a sqlite database. Everything goes through a single connection,
// sqlite only allows one writer anyway.
func Open(uri string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not connect to database")
	}

	return db, nil
}

// TODO: This creates tables with the latest schema, it does not migrate
// a database that is on an older version of it.
// https://bun.uptrace.dev/guide/migrations.html
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*models.Mail)(nil),
		(*models.MailboxEntry)(nil),
		(*models.Address)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, "could not create table")
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*models.MailboxEntry)(nil), "mailbox_entries_mailbox_idx", []string{"mailbox", "id"}},
		{(*models.MailboxEntry)(nil), "mailbox_entries_mail_id_idx", []string{"mail_id"}},
		{(*models.Mail)(nil), "messages_expires_at_idx", []string{"expires_at"}},
		{(*models.Address)(nil), "addresses_expires_at_idx", []string{"expires_at"}},
	}
	for _, index := range indexes {
		_, err := db.NewCreateIndex().
			Model(index.model).
			Index(index.name).
			IfNotExists().
			Column(index.columns...).
			Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "could not create index %s", index.name)
		}
	}

	return nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// Persists a mail that expires after the ttl and indexes it under every
// mailbox. A mail without mailboxes can only be retrieved by its id. The
// mail and its index entries are written together or not at all.
func (s *Store) Insert(ctx context.Context, mail *models.Mail, mailboxes []string, ttl time.Duration) (string, error) {
	now := s.now().UTC()

	mail.ID = uuid.NewString()
	if mail.ReceivedAt.IsZero() {
		mail.ReceivedAt = now
	}
	mail.ExpiresAt = now.Add(ttl).UnixMilli()

	entries := []models.MailboxEntry{}
	seen := map[string]bool{}
	for _, mailbox := range mailboxes {
		mailbox = models.NormalizeMailbox(mailbox)
		if mailbox == "" || seen[mailbox] {
			continue
		}
		seen[mailbox] = true
		entries = append(entries, models.MailboxEntry{
			Mailbox:   mailbox,
			MailID:    mail.ID,
			Important: mail.Important,
		})
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(mail).Exec(ctx); err != nil {
			return errors.Wrap(err, "could not insert mail")
		}

		if len(entries) > 0 {
			if _, err := tx.NewInsert().Model(&entries).Exec(ctx); err != nil {
				return errors.Wrap(err, "could not index mail")
			}
		}

		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}

	slog.Debug("stored mail", "id", mail.ID, "mailboxes", len(entries), "ttl", ttl)
	return mail.ID, nil
}

// Pushes the expiry of a mail out to now plus the ttl. The expiry never
// moves backwards, and a missing or already expired mail is left alone.
func (s *Store) ExtendExpiry(ctx context.Context, id string, ttl time.Duration) error {
	now := s.now()

	_, err := s.db.NewUpdate().
		Model((*models.Mail)(nil)).
		Set("expires_at = MAX(expires_at, ?)", now.Add(ttl).UnixMilli()).
		Where("id = ?", id).
		Where("expires_at > ?", now.UnixMilli()).
		Exec(ctx)
	if err != nil {
		return unavailable(errors.Wrap(err, "could not extend expiry"))
	}

	return nil
}

// Marks a mail as important and extends its expiry to at least now plus the
// ttl. Marking again is harmless. A mail that has expired, even if it is
// still on disk, is not found.
func (s *Store) MarkImportant(ctx context.Context, id string, ttl time.Duration) error {
	now := s.now()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// The expiry check and the update are one statement, so a mail that
		// expires concurrently is never brought back.
		result, err := tx.NewUpdate().
			Model((*models.Mail)(nil)).
			Set("important = ?", true).
			Set("expires_at = MAX(expires_at, ?)", now.Add(ttl).UnixMilli()).
			Where("id = ?", id).
			Where("expires_at > ?", now.UnixMilli()).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not mark mail")
		}
		if count, err := result.RowsAffected(); err != nil {
			return errors.Wrap(err, "could not mark mail")
		} else if count == 0 {
			return ErrNotFound
		}

		_, err = tx.NewUpdate().
			Model((*models.MailboxEntry)(nil)).
			Set("important = ?", true).
			Where("mail_id = ?", id).
			Exec(ctx)
		return errors.Wrap(err, "could not mark mailbox entries")
	})
	if err != nil {
		return unavailable(err)
	}

	return nil
}

type ListOptions struct {
	ImportantOnly bool

	// No limit when zero.
	Limit int
}

// Lists the unexpired mails of a mailbox, most recent first.
func (s *Store) ListByMailbox(ctx context.Context, mailbox string, options ListOptions) ([]models.Mail, error) {
	mails := []models.Mail{}

	query := s.db.
		NewSelect().
		Model(&mails).
		Join("JOIN mailbox_entries AS e").
		JoinOn("e.mail_id = m.id").
		Where("e.mailbox = ?", models.NormalizeMailbox(mailbox)).
		Where("m.expires_at > ?", s.nowMillis()).
		OrderExpr("e.id DESC")
	if options.ImportantOnly {
		query = query.Where("e.important = ?", true)
	}
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, unavailable(errors.Wrap(err, "could not query mails"))
	}

	return mails, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Mail, error) {
	mail := &models.Mail{}

	err := s.db.
		NewSelect().
		Model(mail).
		Where("m.id = ?", id).
		Where("m.expires_at > ?", s.nowMillis()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(errors.Wrap(err, "could not query mail"))
	}

	return mail, nil
}

// Records a handed out address until now plus the ttl. An expired record
// for the same local part that has not been reaped yet is replaced.
func (s *Store) RegisterAddress(ctx context.Context, localPart string, ttl time.Duration) (*models.Address, error) {
	now := s.now().UTC()
	address := &models.Address{
		LocalPart: models.NormalizeMailbox(localPart),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	if address.LocalPart == "" {
		return nil, errors.Wrap(ErrAddressTaken, "empty local part")
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.Address)(nil)).
			Where("local_part = ?", address.LocalPart).
			Where("expires_at <= ?", now.UnixMilli()).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not clear expired address")
		}

		if _, err := tx.NewInsert().Model(address).Exec(ctx); err != nil {
			if utils.IsUniqueConstraintErr(err) {
				return ErrAddressTaken
			}
			return errors.Wrap(err, "could not register address")
		}

		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	return address, nil
}

// Returns a boolean indicating if an unexpired address record exists.
func (s *Store) AddressExists(ctx context.Context, localPart string) (bool, error) {
	exists, err := s.db.
		NewSelect().
		Model((*models.Address)(nil)).
		Where("a.local_part = ?", models.NormalizeMailbox(localPart)).
		Where("a.expires_at > ?", s.nowMillis()).
		Exists(ctx)
	if err != nil {
		return false, unavailable(errors.Wrap(err, "could not query addresses"))
	}

	return exists, nil
}

// Wraps unexpected database failures so callers can tell them apart from
// the outcomes they are expected to handle.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAddressTaken) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
