package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/gabibdods/NullVelope/internal/mail"
	"github.com/gabibdods/NullVelope/internal/retention"
	"github.com/pkg/errors"
)

const ModelDirect = "smtp"

// Ingests mail received straight over SMTP. The mail is routed to every
// local part of the served domain among its To and Cc headers and its
// envelope recipients, and stored once with an index entry per mailbox.
type Direct struct {
	domain string
	pipeline
}

// Keep mail that does not route to any mailbox, it can then only be
// fetched by id. Such mail is rejected otherwise.
func KeepUnrouted(keep bool) Option {
	return func(p *pipeline) {
		p.keepUnrouted = keep
	}
}

func NewDirect(domain string, store Store, policy retention.Policy, options ...Option) *Direct {
	return &Direct{
		domain:   domain,
		pipeline: newPipeline(ModelDirect, store, policy, options),
	}
}

func (d *Direct) Handle(ctx context.Context, transaction *Transaction) (*Receipt, error) {
	if transaction == nil || transaction.Data == nil {
		return nil, d.reject(ctx, "malformed", errors.Wrap(ErrMalformedTransaction, "no message data"))
	}

	parsed, err := mail.Decompose(transaction.Data, d.decompose)
	if err != nil {
		return nil, d.reject(ctx, "malformed", fmt.Errorf("%w: %w", ErrMalformedTransaction, err))
	}
	// A part that could not be read is skipped while decomposing, but a
	// transaction that broke off halfway is not a message at all.
	if _, err := io.Copy(io.Discard, transaction.Data); err != nil {
		return nil, d.reject(ctx, "truncated", fmt.Errorf("%w: %w", ErrMalformedTransaction, err))
	}
	if parsed.From == "" {
		parsed.From = transaction.MailFrom
	}

	tokens := append(append([]string{}, parsed.To...), transaction.Recipients...)
	mailboxes := mail.ResolveLocalParts(tokens, d.domain)
	if len(mailboxes) == 0 && !d.keepUnrouted {
		return nil, d.reject(ctx, "no-recipient", errors.Wrapf(ErrNoMatchingRecipient, "nothing addressed to %s", d.domain))
	}

	return d.persist(ctx, parsed, mailboxes)
}
