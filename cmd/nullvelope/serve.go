package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/gabibdods/NullVelope/internal/addresses"
	"github.com/gabibdods/NullVelope/internal/api"
	"github.com/gabibdods/NullVelope/internal/config"
	"github.com/gabibdods/NullVelope/internal/ingest"
	"github.com/gabibdods/NullVelope/internal/mail"
	"github.com/gabibdods/NullVelope/internal/mail/backend"
	"github.com/gabibdods/NullVelope/internal/metrics"
	"github.com/gabibdods/NullVelope/internal/retention"
	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion paths, the api and the reaper",
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := setup(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), settings)
	},
}

func serve(ctx context.Context, settings *config.Settings) error {
	policy, err := retention.FromSettings(retention.Settings{
		Policy:       settings.Retention.Policy,
		Keyword:      settings.Retention.Keyword,
		MessageTTL:   settings.Retention.MessageTTL,
		ImportantTTL: settings.Retention.ImportantTTL,
	})
	if err != nil {
		return errors.Wrap(err, "invalid retention policy")
	}

	db, err := openDB(ctx, settings, settings.Core.DBMigrate)
	if err != nil {
		return err
	}
	defer db.Close()

	s := store.New(db)
	updates := ingest.NewMailboxUpdates()
	options := []ingest.Option{
		ingest.WithUpdates(updates),
		ingest.WithMetrics(metrics.NewIngest()),
		ingest.WithDecomposeOptions(mail.Options{
			MaxInlineAttachmentBytes: settings.Mail.MaxInlineAttachmentBytes,
		}),
	}

	slog.Info(
		"serving",
		"domain", settings.Core.Domain,
		"models", settings.Core.IngestModels,
		"policy", policy.Name(),
	)

	group, ctx := errgroup.WithContext(ctx)

	// Random local parts are only worth handing out when mail for them can
	// arrive over smtp.
	localPart := addresses.ShortUUIDLocalPart
	if settings.Serves(config.ModelSMTP) {
		localPart = addresses.RandomLocalPart

		direct := ingest.NewDirect(
			settings.Core.Domain,
			s,
			policy,
			append(options, ingest.KeepUnrouted(settings.Mail.UnroutedMail == config.UnroutedKeep))...,
		)
		server := backend.NewServer(direct, settings.Core.Domain, settings.Mail)

		listener, err := net.Listen("tcp", settings.Mail.SMTPBindAddr)
		if err != nil {
			return errors.Wrap(err, "could not listen for smtp")
		}

		group.Go(func() error {
			return backend.Run(ctx, server, listener)
		})
	}

	var relay ingest.Handler
	if settings.Serves(config.ModelWebhook) {
		relay = ingest.NewRelay(s, policy, options...)
	}

	app := api.New(api.Options{
		Store:    s,
		Policy:   policy,
		Settings: settings.API,
		Relay:    relay,
		Addresses: &addresses.Generator{
			Domain:    settings.Core.Domain,
			TTL:       settings.Retention.AddressTTL,
			LocalPart: localPart,
			Registry:  s,
		},
		Updates:   updates,
		BodyLimit: int(settings.Mail.MaxMessageBytes),
	})
	group.Go(func() error {
		return api.Run(ctx, app, settings.API.BindAddr)
	})

	group.Go(func() error {
		s.RunReaper(ctx, settings.Core.ReapInterval)
		return nil
	})

	return group.Wait()
}
