package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabibdods/NullVelope/internal/mail"
	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/retention"
	"github.com/pkg/errors"
)

const ModelRelay = "webhook"

// Ingests mail that an upstream relay has already received and forwarded.
// Only the first forwarded recipient counts, its local part is the one
// mailbox the mail lands in, whatever its domain.
type Relay struct {
	pipeline
}

func NewRelay(store Store, policy retention.Policy, options ...Option) *Relay {
	return &Relay{pipeline: newPipeline(ModelRelay, store, policy, options)}
}

func (r *Relay) Handle(ctx context.Context, transaction *Transaction) (*Receipt, error) {
	if transaction == nil || len(transaction.Recipients) == 0 {
		return nil, r.reject(ctx, "no-recipient", errors.Wrap(ErrNoMatchingRecipient, "no recipients forwarded"))
	}

	mailbox, _, _ := strings.Cut(transaction.Recipients[0], "@")
	mailbox = models.NormalizeMailbox(mailbox)
	if mailbox == "" {
		return nil, r.reject(ctx, "no-recipient", errors.Wrapf(ErrNoMatchingRecipient, "bad recipient %q", transaction.Recipients[0]))
	}

	parsed, err := r.decomposeRaw(transaction.Data)
	if err != nil {
		return nil, r.reject(ctx, "truncated", fmt.Errorf("%w: %w", ErrMalformedTransaction, err))
	}

	// What the relay says wins over what the message says.
	if transaction.MailFrom != "" {
		parsed.From = transaction.MailFrom
	}
	parsed.To = append([]string{}, transaction.Recipients...)
	if len(transaction.Headers) > 0 {
		parsed.Headers = transaction.Headers
		if subject, ok := headerValue(transaction.Headers, "Subject"); ok {
			parsed.Subject = subject
		}
	}

	return r.persist(ctx, parsed, []string{mailbox})
}

// Decomposes the forwarded raw message. A relay is not obliged to send a
// well formed message, whatever cannot be decomposed is kept as the text
// body.
func (r *Relay) decomposeRaw(data io.Reader) (*models.Mail, error) {
	if data == nil {
		return &models.Mail{Headers: map[string]string{}}, nil
	}

	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, errors.Wrap(err, "could not read forwarded message")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &models.Mail{Headers: map[string]string{}}, nil
	}

	parsed, err := mail.Decompose(bytes.NewReader(raw), r.decompose)
	if err != nil {
		slog.Debug("forwarded message is not mime, keeping it as text", "err", err)
		return &models.Mail{
			Headers: map[string]string{},
			Text:    strings.ToValidUTF8(string(raw), "\uFFFD"),
		}, nil
	}

	return parsed, nil
}

// Looks a header up regardless of the case it was forwarded in.
func headerValue(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}
