package backend

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/gabibdods/NullVelope/internal/config"
	"github.com/gabibdods/NullVelope/internal/ingest"
	"github.com/pkg/errors"
)

const (
	maxRecipients   = 100
	shutdownTimeout = 10 * time.Second
)

func NewBackend(handler ingest.Handler) *backend {
	return &backend{handler: handler}
}

// The SMTP server backend. It only accepts incoming mail and hands every
// transaction over to the ingestion handler.
type backend struct {
	handler ingest.Handler
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	slog.Debug("new smtp session", "remote", c.Conn().RemoteAddr().String())
	return &session{handler: b.handler}, nil
}

// A session on the backend.
type session struct {
	handler    ingest.Handler
	from       string
	recipients []string
}

// Handles the MAIL command. It is typically used to indicate whether
// the sender address is accepted on this server. The upstream MTA
// will use it to bounce route the email. Senders are not authenticated,
// an empty (null) sender is fine too.
func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	slog.Debug("> MAIL", "from", from)
	s.from = from
	return nil
}

// Handles the RCPT command. Each instance of this command specifies a
// recipient email address. Whether a recipient routes anywhere is only
// decided once the whole message is in.
func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	slog.Debug("> RCPT", "to", to)

	if strings.Count(to, "@") != 1 {
		return &smtp.SMTPError{
			Code:         501,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Bad recipient address syntax",
		}
	}

	s.recipients = append(s.recipients, to)
	return nil
}

// Handles the DATA command. It will be called to receive the email contents,
// including the headers, subject, body and inline or file attachments.
// TODO: Check DKIM signature.
func (s *session) Data(r io.Reader) error {
	receipt, err := s.handler.Handle(context.Background(), &ingest.Transaction{
		MailFrom:   s.from,
		Recipients: s.recipients,
		Data:       r,
	})
	if err != nil {
		slog.Info("refused mail", "from", s.from, "recipients", s.recipients, "err", err)
		return toSMTPError(err)
	}

	slog.Debug("added mail", "from", s.from, "id", receipt.ID, "mailboxes", receipt.Mailboxes)
	return nil
}

// Perform clean up on this session.
func (s *session) Logout() error {
	return nil
}

// Handles the RSET command. It is typically useful for aborting the current
// mail transaction. This allows the sender to reuse the connection for sending
// another email.
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Maps ingestion failures to the reply the client sees. Anything
// unexpected is reported as temporary so the sender retries later.
func toSMTPError(err error) error {
	switch {
	case errors.Is(err, smtp.ErrDataTooLarge):
		return smtp.ErrDataTooLarge

	case errors.Is(err, ingest.ErrNoMatchingRecipient):
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such mailbox here",
		}

	case errors.Is(err, ingest.ErrMalformedTransaction):
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}

	default:
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure, try again later",
		}
	}
}

// Builds the SMTP server for the served domain.
func NewServer(handler ingest.Handler, domain string, settings config.MailSettings) *smtp.Server {
	server := smtp.NewServer(NewBackend(handler))
	server.Addr = settings.SMTPBindAddr
	server.Domain = domain
	server.MaxMessageBytes = settings.MaxMessageBytes
	server.MaxRecipients = maxRecipients
	server.ReadTimeout = time.Minute
	server.WriteTimeout = time.Minute
	return server
}

// Serves SMTP on the listener until the context is done or the server
// fails. The server is shut down on every way out.
func Run(ctx context.Context, server *smtp.Server, listener net.Listener) error {
	slog.Info("starting smtp server", "at", listener.Addr().String())

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()

	var err error
	select {
	case err = <-served:
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if closeErr := server.Shutdown(shutdown); closeErr != nil && !errors.Is(closeErr, smtp.ErrServerClosed) {
		slog.Warn("could not shut the smtp server down cleanly", "err", closeErr)
		server.Close()
	}

	if err == nil {
		err = <-served
	}
	slog.Info("stopped smtp server")

	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "failed serving smtp server")
}
