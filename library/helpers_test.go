package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: epoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tempDB(t *testing.T, opts ...DatabaseOption) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// harness wires the services over a fresh database and a fixed clock.
type harness struct {
	t       *testing.T
	ctx     context.Context
	db      *Database
	clock   *testClock
	metrics *Metrics
	engine  *Engine
	queue   *ReservationQueue
	catalog *Catalog
	members *Members
}

// newHarness builds the components over one database. The calendar is UTC
// unless a tweak changes it.
func newHarness(t *testing.T, tweaks ...func(*Policy)) *harness {
	t.Helper()
	clock := newTestClock()
	metrics := NewMetrics()
	db := tempDB(t, WithMetrics(metrics))
	policy := DefaultPolicy()
	policy.Location = time.UTC
	policy.Now = clock.Now
	for _, tweak := range tweaks {
		tweak(&policy)
	}

	queue := NewReservationQueue(db, policy, nil, metrics)
	return &harness{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		clock:   clock,
		metrics: metrics,
		engine:  NewEngine(db, queue, policy, nil, metrics),
		queue:   queue,
		catalog: NewCatalog(db, policy, nil),
		members: NewMembers(db, policy, nil),
	}
}

func (h *harness) addBook(title string) *Book {
	h.t.Helper()
	b, err := h.catalog.AddBook(h.ctx, title, "Author", "")
	require.NoError(h.t, err)
	return b
}

func (h *harness) addCopy(bookID string) *BookCopy {
	h.t.Helper()
	c, err := h.engine.AddCopy(h.ctx, bookID, "Shelf A")
	require.NoError(h.t, err)
	return c
}

// addMember inserts an ACTIVE member directly, skipping password hashing.
func (h *harness) addMember(name string, tier Tier) *Member {
	h.t.Helper()
	m := &Member{
		ID:              newID(),
		Name:            name,
		Tier:            tier,
		Role:            RoleMember,
		Status:          MemberActive,
		MaxBooksAllowed: MaxBooksForTier(tier),
		CreatedAt:       h.clock.Now(),
	}
	require.NoError(h.t, h.db.Atomic(h.ctx, func(ctx context.Context, repo Repository) error {
		return repo.InsertMember(ctx, m)
	}))
	return m
}

func (h *harness) issue(copyID, memberID string) *Loan {
	h.t.Helper()
	l, err := h.engine.Issue(h.ctx, copyID, memberID)
	require.NoError(h.t, err)
	return l
}

func (h *harness) reserve(bookID, memberID string) *Reservation {
	h.t.Helper()
	r, err := h.queue.Reserve(h.ctx, bookID, memberID)
	require.NoError(h.t, err)
	return r
}

func (h *harness) copyStatus(id string) CopyStatus {
	h.t.Helper()
	c, err := h.engine.GetCopy(h.ctx, id)
	require.NoError(h.t, err)
	return c.Status
}

func (h *harness) reservation(id string) *Reservation {
	h.t.Helper()
	r, err := h.queue.Get(h.ctx, id)
	require.NoError(h.t, err)
	return r
}

func (h *harness) member(id string) *Member {
	h.t.Helper()
	m, err := h.members.Get(h.ctx, id)
	require.NoError(h.t, err)
	return m
}

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, reason, ReasonOf(err), "unexpected error: %v", err)
}
