package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lentOut returns a book whose only copy is on loan to a fresh member.
func lentOut(h *harness) (*Book, *BookCopy, *Loan) {
	h.t.Helper()
	book := h.addBook("Dune")
	c := h.addCopy(book.ID)
	borrower := h.addMember("Borrower", TierStandard)
	return book, c, h.issue(c.ID, borrower.ID)
}

func TestReserveRequiresExhaustedTitle(t *testing.T) {
	h := newHarness(t)
	book := h.addBook("Dune")
	h.addCopy(book.ID)
	alice := h.addMember("Alice", TierStandard)

	_, err := h.queue.Reserve(h.ctx, book.ID, alice.ID)
	requireReason(t, err, ReasonBookAvailable)
	assert.Equal(t, map[string]int{"available_copies": 1}, Describe(err).Details)
}

func TestReserve(t *testing.T) {
	h := newHarness(t)
	book, _, _ := lentOut(h)
	alice := h.addMember("Alice", TierStandard)

	res := h.reserve(book.ID, alice.ID)
	assert.Equal(t, ReservationPending, res.Status)
	assert.Equal(t, epoch, res.ReservationDate)
	assert.Equal(t, epoch.Add(DefaultReservationWindow), res.ExpiryDate)
	assert.Nil(t, res.HeldCopyID)

	_, err := h.queue.Reserve(h.ctx, book.ID, alice.ID)
	requireReason(t, err, ReasonDuplicateReservation)

	_, err = h.queue.Reserve(h.ctx, "ghost", alice.ID)
	requireReason(t, err, ReasonBookNotFound)

	_, err = h.queue.Reserve(h.ctx, book.ID, "ghost")
	requireReason(t, err, ReasonMemberNotFound)

	bob := h.addMember("Bob", TierStandard)
	_, err = h.members.SetStatus(h.ctx, bob.ID, MemberSuspended)
	require.NoError(t, err)
	_, err = h.queue.Reserve(h.ctx, book.ID, bob.ID)
	requireReason(t, err, ReasonMemberInactive)
}

func TestQueueIsFirstComeFirstServed(t *testing.T) {
	h := newHarness(t)
	book, c, loan := lentOut(h)
	alice := h.addMember("Alice", TierStandard)
	bob := h.addMember("Bob", TierStandard)

	first := h.reserve(book.ID, alice.ID)
	h.clock.Advance(time.Minute)
	second := h.reserve(book.ID, bob.ID)

	queue, err := h.queue.List(h.ctx, ReservationFilter{BookID: book.ID})
	require.NoError(t, err)
	require.Len(t, queue.Items, 2)
	assert.Equal(t, first.ID, queue.Items[0].ID)
	assert.Equal(t, second.ID, queue.Items[1].ID)

	h.clock.Advance(time.Hour)
	receipt, err := h.engine.ReturnWithDetails(h.ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, receipt.HeldFor)
	assert.Equal(t, first.ID, receipt.HeldFor.ID)
	assert.Equal(t, CopyReserved, h.copyStatus(c.ID))

	held := h.reservation(first.ID)
	assert.Equal(t, ReservationFulfilled, held.Status)
	require.NotNil(t, held.HeldCopyID)
	assert.Equal(t, c.ID, *held.HeldCopyID)
	assert.Equal(t, h.clock.Now().Add(DefaultReservationWindow), held.ExpiryDate)
	assert.Equal(t, ReservationPending, h.reservation(second.ID).Status)

	pending, err := h.queue.List(h.ctx, ReservationFilter{BookID: book.ID, Status: ReservationPending})
	require.NoError(t, err)
	assert.Equal(t, 1, pending.Total)
}

func TestCancelReservation(t *testing.T) {
	h := newHarness(t)
	book, _, _ := lentOut(h)
	alice := h.addMember("Alice", TierStandard)
	bob := h.addMember("Bob", TierStandard)
	res := h.reserve(book.ID, alice.ID)

	_, err := h.queue.Cancel(h.ctx, res.ID, Actor{MemberID: bob.ID, Role: RoleMember})
	requireReason(t, err, ReasonNotAuthorized)

	cancelled, err := h.queue.Cancel(h.ctx, res.ID, Actor{MemberID: alice.ID, Role: RoleMember})
	require.NoError(t, err)
	assert.Equal(t, ReservationCancelled, cancelled.Status)
	assert.Equal(t, ReservationCancelled, h.reservation(res.ID).Status)

	_, err = h.queue.Cancel(h.ctx, res.ID, Actor{MemberID: alice.ID, Role: RoleMember})
	requireReason(t, err, ReasonNotPending)

	_, err = h.queue.Cancel(h.ctx, "ghost", Actor{Role: RoleAdmin})
	requireReason(t, err, ReasonNotFound)

	// A cancelled reservation frees the slot for a new one.
	again := h.reserve(book.ID, alice.ID)
	_, err = h.queue.Cancel(h.ctx, again.ID, Actor{MemberID: "staff", Role: RoleLibrarian})
	require.NoError(t, err)
}

func TestCancelledReservationIsSkipped(t *testing.T) {
	h := newHarness(t)
	book, c, loan := lentOut(h)
	alice := h.addMember("Alice", TierStandard)
	bob := h.addMember("Bob", TierStandard)

	first := h.reserve(book.ID, alice.ID)
	h.clock.Advance(time.Minute)
	second := h.reserve(book.ID, bob.ID)
	_, err := h.queue.Cancel(h.ctx, first.ID, Actor{MemberID: alice.ID, Role: RoleMember})
	require.NoError(t, err)

	receipt, err := h.engine.ReturnWithDetails(h.ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, receipt.HeldFor)
	assert.Equal(t, second.ID, receipt.HeldFor.ID)
	assert.Equal(t, CopyReserved, h.copyStatus(c.ID))
}

func TestExpireStalePending(t *testing.T) {
	h := newHarness(t)
	book, c, loan := lentOut(h)
	alice := h.addMember("Alice", TierStandard)
	res := h.reserve(book.ID, alice.ID)

	h.clock.Advance(DefaultReservationWindow - time.Minute)
	report, err := h.queue.ExpireStale(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiryReport{}, report)

	h.clock.Advance(2 * time.Minute)
	report, err = h.queue.ExpireStale(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiryReport{Expired: 1}, report)
	assert.Equal(t, ReservationExpired, h.reservation(res.ID).Status)

	// The expired reservation no longer claims the copy.
	_, err = h.engine.Return(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, CopyAvailable, h.copyStatus(c.ID))
}

func TestExpireStaleHoldCascades(t *testing.T) {
	h := newHarness(t)
	book, c, loan := lentOut(h)
	bob := h.addMember("Bob", TierStandard)
	carol := h.addMember("Carol", TierStandard)
	dave := h.addMember("Dave", TierStandard)

	holder := h.reserve(book.ID, bob.ID)
	h.clock.Advance(time.Hour)
	lapsed := h.reserve(book.ID, carol.ID)

	h.clock.Advance(day)
	_, err := h.engine.Return(h.ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, ReservationFulfilled, h.reservation(holder.ID).Status)

	h.clock.Advance(day)
	next := h.reserve(book.ID, dave.ID)

	// Bob never collects. Carol's own reservation lapsed before the hold did.
	h.clock.Advance(DefaultReservationWindow - time.Hour)
	report, err := h.queue.ExpireStale(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiryReport{Expired: 2, Reoffered: 1, ReleasedCopies: 1}, report)

	assert.Equal(t, ReservationExpired, h.reservation(holder.ID).Status)
	assert.Nil(t, h.reservation(holder.ID).HeldCopyID)
	assert.Equal(t, ReservationExpired, h.reservation(lapsed.ID).Status)

	offered := h.reservation(next.ID)
	assert.Equal(t, ReservationFulfilled, offered.Status)
	require.NotNil(t, offered.HeldCopyID)
	assert.Equal(t, c.ID, *offered.HeldCopyID)
	assert.Equal(t, CopyReserved, h.copyStatus(c.ID))

	_, err = h.engine.Issue(h.ctx, c.ID, bob.ID)
	requireReason(t, err, ReasonCopyUnavailable)
	h.issue(c.ID, dave.ID)

	report, err = h.queue.ExpireStale(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiryReport{}, report)
}

func TestExpireStaleReleasesToShelfWhenNobodyWaits(t *testing.T) {
	h := newHarness(t)
	book, c, loan := lentOut(h)
	alice := h.addMember("Alice", TierStandard)
	h.reserve(book.ID, alice.ID)

	_, err := h.engine.Return(h.ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, CopyReserved, h.copyStatus(c.ID))

	h.clock.Advance(DefaultReservationWindow + time.Second)
	report, err := h.queue.ExpireStale(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpiryReport{Expired: 1, ReleasedCopies: 1}, report)
	assert.Equal(t, CopyAvailable, h.copyStatus(c.ID))

	b, err := h.catalog.GetBook(h.ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)
}

// callLog records which repository calls a unit of work makes, in order.
type callLog struct {
	Store
	mu    sync.Mutex
	calls []string
}

func (s *callLog) Atomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return s.Store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		return fn(ctx, &loggedRepository{Repository: repo, log: s})
	})
}

func (s *callLog) add(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

type loggedRepository struct {
	Repository
	log *callLog
}

func (r *loggedRepository) GetBook(ctx context.Context, id string) (*Book, error) {
	r.log.add("GetBook")
	return r.Repository.GetBook(ctx, id)
}

func (r *loggedRepository) NextPendingReservation(ctx context.Context, bookID string, now time.Time) (*Reservation, error) {
	r.log.add("NextPendingReservation")
	return r.Repository.NextPendingReservation(ctx, bookID, now)
}

func TestReturnLocksTitleBeforeReadingQueue(t *testing.T) {
	h := newHarness(t)
	_, _, loan := lentOut(h)

	store := &callLog{Store: h.db}
	policy := DefaultPolicy()
	policy.Location = time.UTC
	policy.Now = h.clock.Now
	engine := NewEngine(store, NewReservationQueue(store, policy, nil, nil), policy, nil, nil)

	receipt, err := engine.ReturnWithDetails(h.ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, receipt.HeldFor)
	assert.Equal(t, []string{"GetBook", "NextPendingReservation"}, store.calls)
}
