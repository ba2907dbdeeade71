package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gabibdods/NullVelope/internal/bus"
	"github.com/gabibdods/NullVelope/internal/mail"
	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/metrics"
	"github.com/gabibdods/NullVelope/internal/retention"
	"github.com/pkg/errors"
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrNoMatchingRecipient  = errors.New("no matching recipient")
)

// One inbound mail transaction, as handed over by a listener.
type Transaction struct {
	// The envelope sender.
	MailFrom string
	// The envelope recipients, or the recipients a relay forwarded.
	Recipients []string
	// Headers a relay has already parsed out of the message, if any.
	Headers map[string]string
	// The raw message.
	Data io.Reader
}

// What an accepted transaction turned into.
type Receipt struct {
	ID        string
	Mailboxes []string
}

// Takes a transaction through decomposition, routing and retention into
// the store. Either the whole mail is persisted and a receipt returned, or
// nothing is persisted and the error says why.
type Handler interface {
	Handle(ctx context.Context, transaction *Transaction) (*Receipt, error)
}

// The part of the store ingestion writes to.
type Store interface {
	Insert(ctx context.Context, mail *models.Mail, mailboxes []string, ttl time.Duration) (string, error)
}

// Carries the new mail id to everyone waiting on a mailbox.
type MailboxUpdates = bus.SignalBus[string, string]

func NewMailboxUpdates() *MailboxUpdates {
	return bus.NewSignalBus[string, string]()
}

type Option func(*pipeline)

// Notify waiters on every mailbox a mail lands in.
func WithUpdates(updates *MailboxUpdates) Option {
	return func(p *pipeline) {
		p.updates = updates
	}
}

func WithMetrics(ingest *metrics.Ingest) Option {
	return func(p *pipeline) {
		p.metrics = ingest
	}
}

func WithDecomposeOptions(options mail.Options) Option {
	return func(p *pipeline) {
		p.decompose = options
	}
}

// The steps both ingestion models share once they know where a mail goes.
type pipeline struct {
	model     string
	store     Store
	policy    retention.Policy
	updates   *MailboxUpdates
	metrics   *metrics.Ingest
	decompose mail.Options

	keepUnrouted bool
}

func newPipeline(model string, store Store, policy retention.Policy, options []Option) pipeline {
	p := pipeline{
		model:   model,
		store:   store,
		policy:  policy,
		metrics: metrics.NewIngest(),
	}
	for _, option := range options {
		option(&p)
	}
	return p
}

func (p *pipeline) persist(ctx context.Context, parsed *models.Mail, mailboxes []string) (*Receipt, error) {
	decision := p.policy.Classify(parsed)
	parsed.Important = decision.Important
	parsed.LocalParts = mailboxes

	id, err := p.store.Insert(ctx, parsed, mailboxes, decision.TTL)
	if err != nil {
		return nil, p.reject(ctx, "store", errors.Wrap(err, "could not persist mail"))
	}

	if p.updates != nil {
		for _, mailbox := range mailboxes {
			p.updates.Emit(mailbox, id)
		}
	}

	p.metrics.Accepted(ctx, p.model)
	p.metrics.Persisted(ctx, p.model, len(mailboxes))
	slog.Info(
		"accepted mail",
		"model", p.model,
		"id", id,
		"mailboxes", mailboxes,
		"important", decision.Important,
		"ttl", decision.TTL,
	)

	return &Receipt{ID: id, Mailboxes: mailboxes}, nil
}

func (p *pipeline) reject(ctx context.Context, reason string, err error) error {
	p.metrics.Rejected(ctx, p.model, reason)
	slog.Info("rejected mail", "model", p.model, "reason", reason, "err", err)
	return err
}
