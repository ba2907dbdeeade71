package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gabibdods/NullVelope/internal/addresses"
	"github.com/gabibdods/NullVelope/internal/config"
	"github.com/gabibdods/NullVelope/internal/ingest"
	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/retention"
	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
)

// The reads and the one mutation the API performs on the store.
type Store interface {
	ListByMailbox(ctx context.Context, mailbox string, options store.ListOptions) ([]models.Mail, error)
	AddressExists(ctx context.Context, localPart string) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Mail, error)
	MarkImportant(ctx context.Context, id string, ttl time.Duration) error
}

type Options struct {
	Store    Store
	Policy   retention.Policy
	Settings config.APISettings

	// Accepts forwarded mail on /entrypoint when set.
	Relay ingest.Handler
	// Hands out addresses on /api/addresses when set.
	Addresses *addresses.Generator
	// Lets listings wait for new mail when set.
	Updates *ingest.MailboxUpdates

	// Largest request body accepted, fiber's default when zero.
	BodyLimit int
	Clock     func() time.Time
}

type handlers struct {
	Options
}

// Builds the HTTP application.
func New(options Options) *fiber.App {
	if options.Clock == nil {
		options.Clock = time.Now
	}

	app := fiber.New(fiber.Config{
		AppName:               "nullvelope",
		DisableStartupMessage: true,
		BodyLimit:             options.BodyLimit,
		ErrorHandler:          handleError,
	})
	app.Use(recover.New())
	app.Use(otelfiber.Middleware())
	app.Use(cors.New(cors.Config{AllowOrigins: options.Settings.CORSOrigins}))

	h := &handlers{options}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	api := app.Group("/api")
	api.Get("/addresses/:localPart/messages", h.listMessages)
	api.Get("/messages/:id", h.getMessage)
	api.Post("/messages/:id/important", h.markImportant)
	if options.Addresses != nil {
		api.Post("/addresses", h.generateAddress)
	}
	if options.Relay != nil {
		app.Post("/entrypoint", h.entrypoint)
	}

	return app
}

// Maps handler errors to a status code and a json body.
func handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal error"

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message

	case errors.Is(err, store.ErrNotFound):
		code = fiber.StatusNotFound
		message = "not found"

	case errors.Is(err, ingest.ErrNoMatchingRecipient),
		errors.Is(err, ingest.ErrMalformedTransaction):
		code = fiber.StatusBadRequest
		message = err.Error()

	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, addresses.ErrExhausted):
		code = fiber.StatusServiceUnavailable
		message = "temporarily unavailable"
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	} else {
		slog.Debug("request refused", "method", c.Method(), "path", c.Path(), "code", code, "err", err)
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}

// Serves the app on the address until the context is done, then shuts it
// down.
func Run(ctx context.Context, app *fiber.App, addr string) error {
	slog.Info("starting api server", "at", addr)

	served := make(chan error, 1)
	go func() {
		served <- app.Listen(addr)
	}()

	select {
	case err := <-served:
		return errors.Wrap(err, "failed serving api")
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdown); err != nil {
		return errors.Wrap(err, "could not shut the api down")
	}

	slog.Info("stopped api server")
	return <-served
}
