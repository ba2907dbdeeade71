package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type ReapResult struct {
	Mails     int64
	Entries   int64
	Addresses int64
}

// Deletes expired mails along with their mailbox entries, and expired
// address records.
func (s *Store) Reap(ctx context.Context) (ReapResult, error) {
	now := s.nowMillis()
	var result ReapResult

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		deleted, err := tx.NewDelete().
			Model((*models.Mail)(nil)).
			Where("expires_at <= ?", now).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not delete expired mails")
		}
		result.Mails, _ = deleted.RowsAffected()

		live := tx.NewSelect().Model((*models.Mail)(nil)).Column("id")
		deleted, err = tx.NewDelete().
			Model((*models.MailboxEntry)(nil)).
			Where("mail_id NOT IN (?)", live).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not delete stale mailbox entries")
		}
		result.Entries, _ = deleted.RowsAffected()

		deleted, err = tx.NewDelete().
			Model((*models.Address)(nil)).
			Where("expires_at <= ?", now).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "could not delete expired addresses")
		}
		result.Addresses, _ = deleted.RowsAffected()

		return nil
	})
	if err != nil {
		return ReapResult{}, unavailable(err)
	}

	return result, nil
}

// Reaps right away and then on every tick of the interval until the
// context is done.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		slog.Info("cleaning up stale mails")
		if result, err := s.Reap(ctx); err != nil {
			slog.Warn("could not clean up stale mails", "err", err)
		} else {
			slog.Debug(
				"cleaned up stale mails",
				"mails", result.Mails,
				"entries", result.Entries,
				"addresses", result.Addresses,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
