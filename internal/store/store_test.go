package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/gabibdods/NullVelope/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMail(subject string) *models.Mail {
	filename := "a.txt"
	content := "aGk="
	return &models.Mail{
		Subject:    subject,
		From:       "Sender <sender@example.com>",
		To:         []string{"abc@served.domain", "other@example.com"},
		LocalParts: []string{"abc"},
		Headers:    map[string]string{"Subject": subject},
		Text:       "text",
		HTML:       "<p>html</p>",
		Attachments: []models.Attachment{
			{Filename: &filename, ContentType: "text/plain", Size: 2, ContentB64: &content},
		},
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	id, err := s.Insert(ctx, newMail("hello"), []string{"abc"}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	mail, err := s.GetByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "hello", mail.Subject)
	assert.Equal(t, "Sender <sender@example.com>", mail.From)
	assert.Equal(t, []string{"abc@served.domain", "other@example.com"}, mail.To)
	assert.Equal(t, []string{"abc"}, mail.LocalParts)
	assert.Equal(t, map[string]string{"Subject": "hello"}, mail.Headers)
	assert.Equal(t, "text", mail.Text)
	assert.Equal(t, "<p>html</p>", mail.HTML)
	require.Len(t, mail.Attachments, 1)
	assert.Equal(t, "a.txt", *mail.Attachments[0].Filename)
	assert.Equal(t, int64(2), mail.Attachments[0].Size)
	assert.False(t, mail.Important)
	assert.True(t, mail.ReceivedAt.Equal(clock.Now()))
	assert.True(t, mail.Expiry().Equal(clock.Now().Add(time.Hour)))
}

func TestGetMissing(t *testing.T) {
	s := storetest.New(t, storetest.NewClock())

	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpiredMailIsUnreachable(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	id, err := s.Insert(ctx, newMail("short lived"), []string{"abc"}, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = s.GetByID(ctx, id)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.GetByID(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	mails, err := s.ListByMailbox(ctx, "abc", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, mails)
}

func TestInsertWithoutMailboxes(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t, storetest.NewClock())

	id, err := s.Insert(ctx, newMail("unrouted"), nil, time.Hour)
	require.NoError(t, err)

	_, err = s.GetByID(ctx, id)
	assert.NoError(t, err)

	mails, err := s.ListByMailbox(ctx, "abc", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, mails)
}

func TestListByMailbox(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	first, err := s.Insert(ctx, newMail("first"), []string{"abc"}, time.Hour)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	second, err := s.Insert(ctx, newMail("second"), []string{"ABC", "xyz"}, 2*time.Hour)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	third, err := s.Insert(ctx, newMail("third"), []string{"abc"}, 10*time.Minute)
	require.NoError(t, err)

	_, err = s.Insert(ctx, newMail("elsewhere"), []string{"someone"}, time.Hour)
	require.NoError(t, err)

	ids := func(mails []models.Mail) []string {
		ids := []string{}
		for _, mail := range mails {
			ids = append(ids, mail.ID)
		}
		return ids
	}

	mails, err := s.ListByMailbox(ctx, "abc", store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{third, second, first}, ids(mails))

	mails, err = s.ListByMailbox(ctx, "abc", store.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{third, second}, ids(mails))

	mails, err = s.ListByMailbox(ctx, "xyz", store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{second}, ids(mails))

	// The third mail has expired but nothing has been reaped yet.
	clock.Advance(15 * time.Minute)
	mails, err = s.ListByMailbox(ctx, "abc", store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, ids(mails))
}

func TestMarkImportant(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	id, err := s.Insert(ctx, newMail("keep me"), []string{"abc"}, time.Hour)
	require.NoError(t, err)
	other, err := s.Insert(ctx, newMail("not me"), []string{"abc"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.MarkImportant(ctx, id, 24*time.Hour))
	once, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, once.Important)
	assert.True(t, once.Expiry().Equal(clock.Now().Add(24*time.Hour)))

	require.NoError(t, s.MarkImportant(ctx, id, 24*time.Hour))
	twice, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, once.ExpiresAt, twice.ExpiresAt)
	assert.True(t, twice.Important)

	mails, err := s.ListByMailbox(ctx, "abc", store.ListOptions{ImportantOnly: true})
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.Equal(t, id, mails[0].ID)

	mails, err = s.ListByMailbox(ctx, "abc", store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, mails, 2)
	assert.Equal(t, other, mails[0].ID)

	// It outlives the first ttl.
	clock.Advance(2 * time.Hour)
	_, err = s.GetByID(ctx, id)
	assert.NoError(t, err)
	_, err = s.GetByID(ctx, other)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkImportantNeverShortens(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	id, err := s.Insert(ctx, newMail("long"), []string{"abc"}, 48*time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.MarkImportant(ctx, id, 24*time.Hour))
	mail, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, mail.Expiry().Equal(clock.Now().Add(48*time.Hour)))
}

func TestMarkImportantMissingOrExpired(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	assert.ErrorIs(t, s.MarkImportant(ctx, "missing", time.Hour), store.ErrNotFound)

	id, err := s.Insert(ctx, newMail("gone"), []string{"abc"}, time.Minute)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	assert.ErrorIs(t, s.MarkImportant(ctx, id, 24*time.Hour), store.ErrNotFound)
	_, err = s.GetByID(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExtendExpiry(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	id, err := s.Insert(ctx, newMail("extend"), []string{"abc"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.ExtendExpiry(ctx, id, 3*time.Hour))
	require.NoError(t, s.ExtendExpiry(ctx, id, time.Minute))

	mail, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, mail.Expiry().Equal(clock.Now().Add(3*time.Hour)))

	assert.NoError(t, s.ExtendExpiry(ctx, "missing", time.Hour))
}

func TestReap(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	expired, err := s.Insert(ctx, newMail("expired"), []string{"abc", "xyz"}, time.Minute)
	require.NoError(t, err)
	kept, err := s.Insert(ctx, newMail("kept"), []string{"abc"}, time.Hour)
	require.NoError(t, err)
	_, err = s.RegisterAddress(ctx, "tm_old", time.Minute)
	require.NoError(t, err)
	_, err = s.RegisterAddress(ctx, "tm_new", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	result, err := s.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.ReapResult{Mails: 1, Entries: 2, Addresses: 1}, result)

	_, err = s.GetByID(ctx, expired)
	assert.ErrorIs(t, err, store.ErrNotFound)

	mails, err := s.ListByMailbox(ctx, "abc", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.Equal(t, kept, mails[0].ID)

	result, err = s.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.ReapResult{}, result)
}

func TestRunReaperStopsWithContext(t *testing.T) {
	s := storetest.New(t, storetest.NewClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunReaper(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestRegisterAddress(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := storetest.New(t, clock)

	address, err := s.RegisterAddress(ctx, "TM_abc", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "tm_abc", address.LocalPart)

	_, err = s.RegisterAddress(ctx, "tm_abc", time.Hour)
	assert.ErrorIs(t, err, store.ErrAddressTaken)

	exists, err := s.AddressExists(ctx, "tm_abc")
	require.NoError(t, err)
	assert.True(t, exists)

	// Once expired the local part can be handed out again.
	clock.Advance(time.Hour)
	exists, err = s.AddressExists(ctx, "tm_abc")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.RegisterAddress(ctx, "tm_abc", time.Hour)
	assert.NoError(t, err)
}
