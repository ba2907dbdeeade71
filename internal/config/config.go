package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// TODO: Support configuring from cli flags and configuration files too.

// General server level configuration.
type CoreSettings struct {
	Debug bool `env:"DEBUG"`

	// The single domain mail is accepted for.
	Domain string `env:"DOMAIN,required"`

	DBURI     string `env:"DB_URI" envDefault:"file:db.sqlite3"`
	DBMigrate bool   `env:"DB_MIGRATE"`

	// Which ingestion paths are served, any of smtp and webhook.
	IngestModels []string `env:"INGEST_MODELS" envDefault:"smtp,webhook"`

	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
}

// Settings related to the SMTP listener and message decomposition.
type MailSettings struct {
	SMTPBindAddr    string `env:"SMTP_BIND_ADDR" envDefault:"127.0.0.1:1025"`
	MaxMessageBytes int64  `env:"SMTP_MAX_MESSAGE_BYTES" envDefault:"26214400"`

	MaxInlineAttachmentBytes int64 `env:"MAX_INLINE_ATTACHMENT_BYTES" envDefault:"262144"`

	// What happens to mail that does not resolve to any local part, either
	// reject or keep.
	UnroutedMail string `env:"UNROUTED_MAIL" envDefault:"reject"`
}

// Settings related to how long things are kept around.
type RetentionSettings struct {
	Policy       string        `env:"RETENTION_POLICY" envDefault:"subject-keyword"`
	Keyword      string        `env:"IMPORTANT_KEYWORD" envDefault:"important"`
	MessageTTL   time.Duration `env:"MESSAGE_TTL" envDefault:"1h"`
	ImportantTTL time.Duration `env:"IMPORTANT_TTL" envDefault:"24h"`
	AddressTTL   time.Duration `env:"ADDRESS_TTL" envDefault:"24h"`
}

// Settings related to the read API.
type APISettings struct {
	BindAddr    string        `env:"API_BIND_ADDR" envDefault:"127.0.0.1:8080"`
	MaxPageSize int           `env:"MAX_PAGE_SIZE" envDefault:"100"`
	MaxWait     time.Duration `env:"API_MAX_WAIT" envDefault:"30s"`
	CORSOrigins string        `env:"CORS_ORIGINS" envDefault:"*"`
}

type LoggingSettings struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Service     string `env:"LOG_SERVICE" envDefault:"nullvelope"`
	LokiEnabled bool   `env:"LOKI_ENABLED"`
	LokiURL     string `env:"LOKI_URL"`
}

type Settings struct {
	Core      CoreSettings
	Mail      MailSettings
	Retention RetentionSettings
	API       APISettings
	Logging   LoggingSettings
}

const (
	UnroutedReject = "reject"
	UnroutedKeep   = "keep"

	ModelSMTP    = "smtp"
	ModelWebhook = "webhook"
)

// Loads the settings from the environment, after reading the dotenv files
// that exist.
func Load(dotenvFiles ...string) (*Settings, error) {
	for _, file := range dotenvFiles {
		// Missing files are fine, the environment may be set some other way.
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "could not load %s", file)
		}
	}

	var settings Settings
	if err := env.Parse(&settings); err != nil {
		return nil, errors.Wrap(err, "could not parse configuration")
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func (s *Settings) Validate() error {
	s.Core.Domain = strings.ToLower(strings.TrimSpace(s.Core.Domain))
	if s.Core.Domain == "" {
		return fmt.Errorf("DOMAIN must not be empty")
	}

	switch s.Mail.UnroutedMail {
	case UnroutedReject, UnroutedKeep:
	default:
		return fmt.Errorf("UNROUTED_MAIL must be %s or %s, got %q", UnroutedReject, UnroutedKeep, s.Mail.UnroutedMail)
	}

	for _, model := range s.Core.IngestModels {
		switch model {
		case ModelSMTP, ModelWebhook:
		default:
			return fmt.Errorf("unknown ingest model %q", model)
		}
	}

	if s.Mail.MaxInlineAttachmentBytes < 0 {
		return fmt.Errorf("MAX_INLINE_ATTACHMENT_BYTES must not be negative")
	}

	if s.API.MaxPageSize <= 0 {
		return fmt.Errorf("MAX_PAGE_SIZE must be positive")
	}

	if s.Retention.AddressTTL <= 0 {
		return fmt.Errorf("ADDRESS_TTL must be positive")
	}

	return nil
}

// Returns a boolean indicating if the ingest model is enabled.
func (s *Settings) Serves(model string) bool {
	return slices.Contains(s.Core.IngestModels, model)
}
