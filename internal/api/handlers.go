package api

import (
	"context"
	"strings"
	"time"

	"github.com/gabibdods/NullVelope/internal/ingest"
	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/gofiber/fiber/v2"
)

// GET /api/addresses/:localPart/messages
//
// Lists the mailbox most recent first. With wait set to a number of
// seconds, an empty listing blocks until mail arrives or the wait runs
// out. Registered tells a handed out address apart from any other local
// part, mail for both is listed.
func (h *handlers) listMessages(c *fiber.Ctx) error {
	mailbox := models.NormalizeMailbox(c.Params("localPart"))
	if mailbox == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing local part")
	}

	options := store.ListOptions{
		ImportantOnly: c.QueryBool("important", false),
		Limit:         h.pageSize(c.QueryInt("limit", 0)),
	}

	// Subscribe before the first listing, mail stored in between still
	// wakes the wait up.
	var arrived <-chan string
	wait := h.waitFor(c.QueryInt("wait", 0))
	if wait > 0 && h.Updates != nil {
		channel, stop := h.Updates.Subscribe(mailbox)
		defer stop()
		arrived = channel
	}

	mails, err := h.Store.ListByMailbox(c.UserContext(), mailbox, options)
	if err != nil {
		return err
	}

	if len(mails) == 0 && arrived != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), wait)
		defer cancel()

		select {
		case <-arrived:
		case <-ctx.Done():
		}

		if mails, err = h.Store.ListByMailbox(c.UserContext(), mailbox, options); err != nil {
			return err
		}
	}

	registered, err := h.Store.AddressExists(c.UserContext(), mailbox)
	if err != nil {
		return err
	}

	now := h.Clock()
	previews := make([]preview, 0, len(mails))
	for index := range mails {
		previews = append(previews, newPreview(&mails[index], now))
	}

	return c.JSON(fiber.Map{
		"localPart":  mailbox,
		"registered": registered,
		"messages":   previews,
	})
}

// GET /api/messages/:id
func (h *handlers) getMessage(c *fiber.Ctx) error {
	mail, err := h.Store.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.JSON(newDetail(mail))
}

// POST /api/messages/:id/important
//
// Only available when the retention policy knows about importance.
func (h *handlers) markImportant(c *fiber.Ctx) error {
	ttl, ok := h.Policy.MarkTTL()
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "the retention policy does not support marking mail as important")
	}

	id := c.Params("id")
	if err := h.Store.MarkImportant(c.UserContext(), id, ttl); err != nil {
		return err
	}

	mail, err := h.Store.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":    "marked",
		"id":        mail.ID,
		"expiresAt": mail.Expiry(),
	})
}

// POST /api/addresses
func (h *handlers) generateAddress(c *fiber.Ctx) error {
	issued, err := h.Addresses.Generate(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"localPart":        issued.LocalPart,
		"address":          issued.Address,
		"expiresAt":        issued.ExpiresAt,
		"expiresInSeconds": int64(issued.TTL / time.Second),
	})
}

// What a relay forwards for every message it received.
type forwarded struct {
	From    string         `json:"from"`
	To      []string       `json:"to"`
	RcptTo  []string       `json:"rcpt_to"`
	Headers map[string]any `json:"headers"`
	Raw     string         `json:"raw"`
}

// POST /entrypoint
func (h *handlers) entrypoint(c *fiber.Ctx) error {
	var payload forwarded
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not parse payload")
	}

	recipients := payload.To
	if len(recipients) == 0 {
		recipients = payload.RcptTo
	}

	receipt, err := h.Relay.Handle(c.UserContext(), &ingest.Transaction{
		MailFrom:   payload.From,
		Recipients: recipients,
		Headers:    flattenHeaders(payload.Headers),
		Data:       strings.NewReader(payload.Raw),
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"status":  "received",
		"emailId": receipt.ID,
	})
}

// Clamps a requested page size, anything out of range gets the largest
// page.
func (h *handlers) pageSize(requested int) int {
	if requested <= 0 || requested > h.Settings.MaxPageSize {
		return h.Settings.MaxPageSize
	}
	return requested
}

func (h *handlers) waitFor(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, h.Settings.MaxWait)
}

// Relays forward headers either as a single value or as every value the
// header had. A header with several values keeps its last one.
func flattenHeaders(headers map[string]any) map[string]string {
	flat := map[string]string{}
	for key, value := range headers {
		switch value := value.(type) {
		case string:
			flat[key] = value
		case []any:
			for _, item := range value {
				if item, ok := item.(string); ok {
					flat[key] = item
				}
			}
		}
	}
	return flat
}
