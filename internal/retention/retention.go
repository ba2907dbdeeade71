package retention

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabibdods/NullVelope/internal/mail/models"
)

// How long a mail is kept and whether it counts as important.
type Decision struct {
	Important bool
	TTL       time.Duration
}

// Decides the retention of every mail at ingestion time.
type Policy interface {
	Name() string

	Classify(mail *models.Mail) Decision

	// Returns the TTL applied when a reader marks a mail as important, and
	// false if the policy has no notion of importance.
	MarkTTL() (time.Duration, bool)
}

// A mail is important when its subject contains the keyword. Important
// mails, and mails marked important later on, are kept for the long TTL.
type SubjectKeyword struct {
	Keyword  string
	ShortTTL time.Duration
	LongTTL  time.Duration
}

func (p SubjectKeyword) Name() string {
	return SubjectKeywordPolicy
}

func (p SubjectKeyword) Classify(mail *models.Mail) Decision {
	keyword := strings.ToLower(p.Keyword)
	if keyword != "" && strings.Contains(strings.ToLower(mail.Subject), keyword) {
		return Decision{Important: true, TTL: p.LongTTL}
	}
	return Decision{TTL: p.ShortTTL}
}

func (p SubjectKeyword) MarkTTL() (time.Duration, bool) {
	return p.LongTTL, true
}

// Every mail gets the same TTL and nothing is ever important.
type Uniform struct {
	TTL time.Duration
}

func (p Uniform) Name() string {
	return UniformPolicy
}

func (p Uniform) Classify(*models.Mail) Decision {
	return Decision{TTL: p.TTL}
}

func (p Uniform) MarkTTL() (time.Duration, bool) {
	return 0, false
}

const (
	SubjectKeywordPolicy = "subject-keyword"
	UniformPolicy        = "uniform"
)

// The values a policy can be built from.
type Settings struct {
	Policy       string
	Keyword      string
	MessageTTL   time.Duration
	ImportantTTL time.Duration
}

type Factory func(Settings) (Policy, error)

var (
	registryLock sync.RWMutex
	registry     = map[string]Factory{
		SubjectKeywordPolicy: func(s Settings) (Policy, error) {
			if s.ImportantTTL < s.MessageTTL {
				return nil, fmt.Errorf("important ttl (%s) is shorter than the message ttl (%s)", s.ImportantTTL, s.MessageTTL)
			}
			keyword := s.Keyword
			if keyword == "" {
				keyword = "important"
			}
			return SubjectKeyword{Keyword: keyword, ShortTTL: s.MessageTTL, LongTTL: s.ImportantTTL}, nil
		},
		UniformPolicy: func(s Settings) (Policy, error) {
			return Uniform{TTL: s.MessageTTL}, nil
		},
	}
)

// Makes a policy available under a name.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[name] = factory
}

// Builds the policy named in the settings.
func FromSettings(s Settings) (Policy, error) {
	if s.MessageTTL <= 0 {
		return nil, fmt.Errorf("message ttl must be positive, got %s", s.MessageTTL)
	}

	registryLock.RLock()
	factory, ok := registry[s.Policy]
	registryLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown retention policy %q, expected one of %s", s.Policy, strings.Join(Names(), ", "))
	}

	return factory(s)
}

func Names() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
