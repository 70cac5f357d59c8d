package csrf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mojzu/sso-sub004/internal/token"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// memStore is an in-memory Store with the same atomic consume contract as
// the Postgres implementation.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*Entry)}
}

func (s *memStore) Create(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.Key] = &cp
	return nil
}

func (s *memStore) Consume(_ context.Context, key string, now time.Time) (ConsumeState, *Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return StateMissing, nil, nil
	}
	if e.ConsumedAt != nil {
		return StateSpent, nil, nil
	}
	if !now.Before(e.ExpiresAt) {
		return StateExpired, nil, nil
	}
	consumed := now
	e.ConsumedAt = &consumed
	cp := *e
	return StateConsumed, &cp, nil
}

func (s *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func newTestLedger(store Store, at time.Time) *Ledger {
	clock := func() time.Time { return at }
	return NewLedger(store, token.NewCodec(token.WithClock(clock)), WithClock(clock))
}

func TestIssueAndConsumeOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(newMemStore(), now)

	tok, err := ledger.Issue(ctx, "client-1", testKey, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := ledger.VerifyAndConsume(ctx, "client-1", testKey, tok); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := ledger.VerifyAndConsume(ctx, "client-1", testKey, tok); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed on replay, got %v", err)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(newMemStore(), now)

	// Structurally valid token whose key was never recorded.
	codec := token.NewCodec(token.WithClock(func() time.Time { return now }))
	tok, _, err := codec.Issue("client-1", "", token.KindCSRF, "never-recorded", 10*time.Minute, testKey)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := ledger.VerifyAndConsume(ctx, "client-1", testKey, tok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	ledger := newTestLedger(store, now)

	tok, err := ledger.Issue(ctx, "client-1", testKey, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	late := newTestLedger(store, now.Add(2*time.Minute))
	if err := late.VerifyAndConsume(ctx, "client-1", testKey, tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestConsumeWrongClient(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(newMemStore(), now)

	tok, err := ledger.Issue(ctx, "client-1", testKey, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := ledger.VerifyAndConsume(ctx, "client-2", testKey, tok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign client, got %v", err)
	}
}

func TestConcurrentConsumeExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(newMemStore(), now)

	entry, err := ledger.CreateEntry(ctx, "client-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	const workers = 32
	var (
		wg        sync.WaitGroup
		successes int64
		mu        sync.Mutex
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := ledger.ConsumeKey(ctx, entry.Key); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", successes)
	}
}

func TestCreateEntrySweepsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()

	early := newTestLedger(store, now)
	old, err := early.CreateEntry(ctx, "client-1", time.Minute)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	late := newTestLedger(store, now.Add(time.Hour))
	if _, err := late.CreateEntry(ctx, "client-1", time.Minute); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if err := late.ConsumeKey(ctx, old.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected swept entry to be gone, got %v", err)
	}
}
