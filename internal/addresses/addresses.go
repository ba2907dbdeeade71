package addresses

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	randomPrefix   = "tm_"
	randomLength   = 10
	randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	maxAttempts = 8
)

var ErrExhausted = errors.New("could not find a free address")

// Produces candidate local parts.
type LocalPartFunc func() (string, error)

// A tm_ prefix followed by random lower case letters and digits.
func RandomLocalPart() (string, error) {
	size := big.NewInt(int64(len(randomAlphabet)))

	name := make([]byte, randomLength)
	for index := range name {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", errors.Wrap(err, "could not read randomness")
		}
		name[index] = randomAlphabet[n.Int64()]
	}

	return randomPrefix + string(name), nil
}

// The first eight characters of a random uuid.
func ShortUUIDLocalPart() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "could not generate uuid")
	}
	return id.String()[:8], nil
}

type Registry interface {
	RegisterAddress(ctx context.Context, localPart string, ttl time.Duration) (*models.Address, error)
}

// Hands out fresh addresses on the served domain.
type Generator struct {
	Domain    string
	TTL       time.Duration
	LocalPart LocalPartFunc
	Registry  Registry
}

type Issued struct {
	LocalPart string
	Address   string
	ExpiresAt time.Time
	TTL       time.Duration
}

// Generates a local part and registers it. A name that is already taken
// is retried with a new one, a bounded number of times.
func (g *Generator) Generate(ctx context.Context) (*Issued, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		name, err := g.LocalPart()
		if err != nil {
			return nil, err
		}

		address, err := g.Registry.RegisterAddress(ctx, name, g.TTL)
		if errors.Is(err, store.ErrAddressTaken) {
			slog.Debug("generated address is taken, retrying", "name", name, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "could not register address")
		}

		return &Issued{
			LocalPart: address.LocalPart,
			Address:   fmt.Sprintf("%s@%s", address.LocalPart, g.Domain),
			ExpiresAt: time.UnixMilli(address.ExpiresAt).UTC(),
			TTL:       g.TTL,
		}, nil
	}

	return nil, ErrExhausted
}
