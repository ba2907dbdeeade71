package api

import (
	"log/slog"
	"time"

	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/utils"
	"github.com/jaytaylor/html2text"
)

const snippetLength = 140

type preview struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
	ReceivedAt     time.Time `json:"receivedAt"`
	HasAttachments bool      `json:"hasAttachments"`
	Important      bool      `json:"important"`
	Snippet        string    `json:"snippet"`
	Age            string    `json:"age"`
}

func newPreview(mail *models.Mail, now time.Time) preview {
	return preview{
		ID:             mail.ID,
		Subject:        mail.Subject,
		From:           mail.From,
		ReceivedAt:     mail.ReceivedAt.UTC(),
		HasAttachments: mail.HasAttachments(),
		Important:      mail.Important,
		Snippet:        snippet(mail),
		Age:            utils.AgeAt(now, mail.ReceivedAt),
	}
}

type detail struct {
	ID          string              `json:"id"`
	Subject     string              `json:"subject"`
	From        string              `json:"from"`
	To          []string            `json:"to"`
	LocalParts  []string            `json:"localParts"`
	ReceivedAt  time.Time           `json:"receivedAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	Important   bool                `json:"important"`
	Headers     map[string]string   `json:"headers"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	Attachments []models.Attachment `json:"attachments"`
}

func newDetail(mail *models.Mail) detail {
	d := detail{
		ID:          mail.ID,
		Subject:     mail.Subject,
		From:        mail.From,
		To:          mail.To,
		LocalParts:  mail.LocalParts,
		ReceivedAt:  mail.ReceivedAt.UTC(),
		ExpiresAt:   mail.Expiry(),
		Important:   mail.Important,
		Headers:     mail.Headers,
		Text:        mail.Text,
		HTML:        mail.HTML,
		Attachments: mail.Attachments,
	}

	// Always lists, never null.
	if d.To == nil {
		d.To = []string{}
	}
	if d.LocalParts == nil {
		d.LocalParts = []string{}
	}
	if d.Attachments == nil {
		d.Attachments = []models.Attachment{}
	}
	if d.Headers == nil {
		d.Headers = map[string]string{}
	}
	return d
}

// A one line summary of the body, from the text body when there is one
// and from the rendered html otherwise.
func snippet(mail *models.Mail) string {
	if mail.Text != "" || mail.HTML == "" {
		return utils.Snippet(mail.Text, snippetLength)
	}

	text, err := html2text.FromString(mail.HTML, html2text.Options{OmitLinks: true})
	if err != nil {
		slog.Debug("could not render html body", "id", mail.ID, "err", err)
		return ""
	}
	return utils.Snippet(text, snippetLength)
}
