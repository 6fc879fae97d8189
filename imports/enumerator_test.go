package imports

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/mailroom/errors"
)

// fakeProvider serves canned enumeration pages and messages for tests.
type fakeProvider struct {
	mu sync.Mutex

	inboxPages [][]MessageDescriptor
	searchMsgs []MessageDescriptor // sorted newest first

	listFailures   int // inject this many transient list errors first
	searchFailures int
	fetchErr       map[string]error
	fetchDelay     time.Duration

	listCalls   int
	searchCalls int
	fetchCalls  int
}

func (f *fakeProvider) ListInbox(ctx context.Context, mailbox, cursor string, limit int) (*MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	if f.listFailures > 0 {
		f.listFailures--
		return nil, errors.New("transient list failure")
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	if idx >= len(f.inboxPages) {
		return &MessagePage{}, nil
	}

	page := &MessagePage{Messages: f.inboxPages[idx]}
	if idx+1 < len(f.inboxPages) {
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *fakeProvider) SearchBefore(ctx context.Context, mailbox string, before time.Time, limit int) ([]MessageDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++

	if f.searchFailures > 0 {
		f.searchFailures--
		return nil, errors.New("transient search failure")
	}

	var out []MessageDescriptor
	for _, m := range f.searchMsgs {
		if m.ReceivedAt.Before(before) {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeProvider) FetchMessage(ctx context.Context, externalID string) (*Message, error) {
	f.mu.Lock()
	delay := f.fetchDelay
	f.fetchCalls++
	err := f.fetchErr[externalID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return &Message{
		ExternalID: externalID,
		Raw:        []byte("From: someone@example.com\r\n\r\nbody"),
	}, nil
}

func msgAt(id string, age time.Duration) MessageDescriptor {
	return MessageDescriptor{ExternalID: id, ReceivedAt: time.Now().UTC().Add(-age)}
}

func TestEnumerateBothPhases(t *testing.T) {
	runs, items, run := setupRun(t)

	provider := &fakeProvider{
		inboxPages: [][]MessageDescriptor{
			{msgAt("m1", time.Hour), msgAt("m2", 2*time.Hour)},
			{msgAt("m3", 3*time.Hour)},
		},
		searchMsgs: []MessageDescriptor{
			msgAt("m4", 24 * time.Hour),
			msgAt("m5", 48 * time.Hour),
		},
	}

	enum := NewEnumerator(runs, items, provider, "inbox", 10, 30*24*time.Hour, nil)
	cp, err := enum.Enumerate(context.Background(), run, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, cp.EnumerationComplete())

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Total())

	updated, err := runs.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalMessages)
	require.NotNil(t, updated.Checkpoint)
	assert.True(t, updated.Checkpoint.EnumerationComplete())
}

func TestEnumerateDeduplicatesAcrossPhases(t *testing.T) {
	runs, items, run := setupRun(t)

	shared := msgAt("m2", 2*time.Hour)
	provider := &fakeProvider{
		inboxPages: [][]MessageDescriptor{{msgAt("m1", time.Hour), shared}},
		searchMsgs: []MessageDescriptor{shared, msgAt("m3", 72 * time.Hour)},
	}

	enum := NewEnumerator(runs, items, provider, "inbox", 10, 30*24*time.Hour, nil)
	_, err := enum.Enumerate(context.Background(), run, time.Now().Add(time.Minute))
	require.NoError(t, err)

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
}

func TestEnumerateDefersWhenOutOfBudget(t *testing.T) {
	runs, items, run := setupRun(t)

	provider := &fakeProvider{
		inboxPages: [][]MessageDescriptor{{msgAt("m1", time.Hour)}},
	}

	enum := NewEnumerator(runs, items, provider, "inbox", 10, 30*24*time.Hour, nil)
	cp, err := enum.Enumerate(context.Background(), run, time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, cp.EnumerationComplete())
	assert.Equal(t, 0, provider.listCalls)
}

func TestEnumerateResumesSearchFromCursor(t *testing.T) {
	runs, items, run := setupRun(t)

	cursor := time.Now().UTC().Add(-10 * time.Hour)
	run.Checkpoint = &Checkpoint{InboxDone: true, SearchBefore: &cursor}

	provider := &fakeProvider{
		searchMsgs: []MessageDescriptor{
			msgAt("recent", time.Hour), // newer than the cursor, must be skipped
			msgAt("old", 20 * time.Hour),
		},
	}

	enum := NewEnumerator(runs, items, provider, "inbox", 10, 30*24*time.Hour, nil)
	cp, err := enum.Enumerate(context.Background(), run, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, cp.EnumerationComplete())
	assert.Equal(t, 0, provider.listCalls)

	counts, err := items.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total())
}

func TestEnumerateRetriesTransientErrors(t *testing.T) {
	runs, items, run := setupRun(t)

	provider := &fakeProvider{
		inboxPages:   [][]MessageDescriptor{{msgAt("m1", time.Hour)}},
		listFailures: 1,
	}

	enum := NewEnumerator(runs, items, provider, "inbox", 10, 30*24*time.Hour, nil)
	cp, err := enum.Enumerate(context.Background(), run, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, cp.InboxDone)
	assert.GreaterOrEqual(t, provider.listCalls, 2)
}

func TestEnumerateFailsAfterRetriesExhausted(t *testing.T) {
	runs, items, run := setupRun(t)

	provider := &fakeProvider{
		inboxPages:   [][]MessageDescriptor{{msgAt("m1", time.Hour)}},
		listFailures: enumerationPageRetries,
	}

	enum := NewEnumerator(runs, items, provider, "inbox", 10, 30*24*time.Hour, nil)
	_, err := enum.Enumerate(context.Background(), run, time.Now().Add(time.Minute))
	require.Error(t, err)
}
