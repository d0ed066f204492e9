package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*LibraryManager, *testClock) {
	t.Helper()
	clock := newTestClock()
	policy := DefaultPolicy()
	policy.Location = time.UTC
	policy.Now = clock.Now
	mgr := NewLibraryManagerFromStore(tempDB(t), policy, nil, NewMetrics())
	return mgr, clock
}

// staffSetup bootstraps an admin and a librarian and returns their actors.
func staffSetup(t *testing.T, mgr *LibraryManager) (admin, librarian Actor) {
	t.Helper()
	ctx := context.Background()
	root, err := mgr.Bootstrap(ctx, "Root", "rootpass")
	require.NoError(t, err)
	admin, err = mgr.AuthenticateMember(ctx, root.ID, "rootpass")
	require.NoError(t, err)

	lib, err := mgr.AddMember(ctx, admin, NewMember{Name: "Libby", Role: RoleLibrarian, Password: "libpass"})
	require.NoError(t, err)
	return admin, Actor{MemberID: lib.ID, Role: RoleLibrarian}
}

func TestBootstrapOnlyOnce(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	admin, err := mgr.Bootstrap(ctx, "Root", "rootpass")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role)
	assert.Equal(t, TierPremium, admin.Tier)
	assert.Equal(t, 10, admin.MaxBooksAllowed)

	_, err = mgr.Bootstrap(ctx, "Again", "rootpass")
	requireReason(t, err, ReasonNotAuthorized)
}

func TestConcurrentBootstrapCreatesOneAdmin(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = mgr.Bootstrap(ctx, "Root", "rootpass")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireReason(t, err, ReasonNotAuthorized)
	}
	assert.Equal(t, 1, succeeded)

	admins, err := mgr.members.List(ctx, MemberFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, admins.Total)
}

func TestAuthenticateMember(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin, err := mgr.Bootstrap(ctx, "Root", "rootpass")
	require.NoError(t, err)

	actor, err := mgr.AuthenticateMember(ctx, admin.ID, "rootpass")
	require.NoError(t, err)
	assert.Equal(t, Actor{MemberID: admin.ID, Role: RoleAdmin}, actor)

	_, err = mgr.AuthenticateMember(ctx, admin.ID, "wrong")
	requireReason(t, err, ReasonInvalidCredentials)

	_, err = mgr.AuthenticateMember(ctx, "ghost", "rootpass")
	requireReason(t, err, ReasonInvalidCredentials)

	require.NoError(t, mgr.ResetMemberPassword(ctx, actor, admin.ID, "newpass"))
	_, err = mgr.AuthenticateMember(ctx, admin.ID, "newpass")
	require.NoError(t, err)
}

func TestSuspendedStaffCannotSignIn(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin, librarian := staffSetup(t, mgr)

	m, err := mgr.AddMember(ctx, admin, NewMember{Name: "Alice", Password: "alice"})
	require.NoError(t, err)

	_, err = mgr.SetMemberStatus(ctx, admin, librarian.MemberID, MemberSuspended)
	require.NoError(t, err)
	_, err = mgr.AuthenticateMember(ctx, librarian.MemberID, "libpass")
	requireReason(t, err, ReasonMemberInactive)

	_, err = mgr.SetMemberStatus(ctx, admin, m.ID, MemberSuspended)
	require.NoError(t, err)
	actor, err := mgr.AuthenticateMember(ctx, m.ID, "alice")
	require.NoError(t, err, "suspension only blocks borrowing")
	assert.Equal(t, RoleMember, actor.Role)

	_, err = mgr.SetMemberStatus(ctx, admin, librarian.MemberID, MemberActive)
	require.NoError(t, err)
	_, err = mgr.AuthenticateMember(ctx, librarian.MemberID, "libpass")
	require.NoError(t, err)
}

func TestStaffOnlyOperations(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	admin, librarian := staffSetup(t, mgr)

	m, err := mgr.AddMember(ctx, librarian, NewMember{Name: "Alice", Tier: TierStudent, Password: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 5, m.MaxBooksAllowed)
	alice := Actor{MemberID: m.ID, Role: RoleMember}

	_, err = mgr.AddBook(ctx, alice, NewBook{Title: "Dune", Author: "Herbert"})
	requireReason(t, err, ReasonNotAuthorized)

	_, err = mgr.AddMember(ctx, alice, NewMember{Name: "Mallory", Password: "mallory"})
	requireReason(t, err, ReasonNotAuthorized)

	// Only admins create staff.
	_, err = mgr.AddMember(ctx, librarian, NewMember{Name: "Boss", Role: RoleAdmin, Password: "bosspass"})
	requireReason(t, err, ReasonNotAuthorized)
	_, err = mgr.AddMember(ctx, admin, NewMember{Name: "Boss", Role: RoleAdmin, Password: "bosspass"})
	require.NoError(t, err)

	_, err = mgr.ListMembers(ctx, alice, MemberFilter{})
	requireReason(t, err, ReasonNotAuthorized)
	_, err = mgr.Stats(ctx, alice)
	requireReason(t, err, ReasonNotAuthorized)
	_, err = mgr.ExpireReservations(ctx, alice)
	requireReason(t, err, ReasonNotAuthorized)
	_, err = mgr.SetMemberStatus(ctx, alice, m.ID, MemberSuspended)
	requireReason(t, err, ReasonNotAuthorized)

	suspended, err := mgr.SetMemberStatus(ctx, librarian, m.ID, MemberSuspended)
	require.NoError(t, err)
	assert.Equal(t, MemberSuspended, suspended.Status)
	assert.Equal(t, 5, suspended.MaxBooksAllowed)

	premium, err := mgr.ReprovisionMember(ctx, librarian, m.ID, TierPremium)
	require.NoError(t, err)
	assert.Equal(t, 10, premium.MaxBooksAllowed)

	_, err = mgr.ReprovisionMember(ctx, librarian, m.ID, "GOLD")
	requireReason(t, err, ReasonValidation)
}

func TestRequestValidation(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	_, librarian := staffSetup(t, mgr)

	_, err := mgr.AddBook(ctx, librarian, NewBook{Author: "Anonymous"})
	requireReason(t, err, ReasonValidation)
	assert.Equal(t, map[string]string{"title": "is required"}, Describe(err).Details)

	_, err = mgr.AddMember(ctx, librarian, NewMember{Name: "Shorty", Password: "abc"})
	requireReason(t, err, ReasonValidation)

	_, err = mgr.ListLoans(ctx, librarian, LoanFilter{Status: "LATE"})
	requireReason(t, err, ReasonValidation)

	_, err = mgr.ListBooks(ctx, Page{Size: 1000})
	requireReason(t, err, ReasonValidation)

	_, err = mgr.Bootstrap(ctx, "", "rootpass")
	requireReason(t, err, ReasonValidation)
}

func TestMembersActOnlyForThemselves(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	_, librarian := staffSetup(t, mgr)

	book, err := mgr.AddBook(ctx, librarian, NewBook{Title: "Dune", Author: "Herbert", ISBN: "9780441013593"})
	require.NoError(t, err)
	first, err := mgr.AddCopy(ctx, librarian, book.ID, "Shelf A")
	require.NoError(t, err)
	second, err := mgr.AddCopy(ctx, librarian, book.ID, "Shelf A")
	require.NoError(t, err)

	a, err := mgr.AddMember(ctx, librarian, NewMember{Name: "Alice", Password: "alice"})
	require.NoError(t, err)
	b, err := mgr.AddMember(ctx, librarian, NewMember{Name: "Bob", Password: "bobby"})
	require.NoError(t, err)
	alice := Actor{MemberID: a.ID, Role: RoleMember}
	bob := Actor{MemberID: b.ID, Role: RoleMember}

	_, err = mgr.CheckoutBook(ctx, alice, first.ID, b.ID)
	requireReason(t, err, ReasonNotAuthorized)

	loan, err := mgr.CheckoutBook(ctx, alice, first.ID, a.ID)
	require.NoError(t, err)
	_, err = mgr.CheckoutBook(ctx, librarian, second.ID, b.ID)
	require.NoError(t, err)

	mine, err := mgr.ListLoans(ctx, alice, LoanFilter{MemberID: b.ID})
	require.NoError(t, err)
	require.Equal(t, 1, mine.Total)
	assert.Equal(t, loan.ID, mine.Items[0].ID)

	all, err := mgr.ListLoans(ctx, librarian, LoanFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	_, err = mgr.GetLoan(ctx, bob, loan.ID)
	requireReason(t, err, ReasonNotAuthorized)
	_, err = mgr.ReturnBook(ctx, bob, loan.ID)
	requireReason(t, err, ReasonNotAuthorized)

	_, err = mgr.ReserveBook(ctx, bob, book.ID, a.ID)
	requireReason(t, err, ReasonNotAuthorized)
	res, err := mgr.ReserveBook(ctx, bob, book.ID, b.ID)
	require.NoError(t, err)

	theirs, err := mgr.ListReservations(ctx, alice, ReservationFilter{BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, theirs.Total)

	_, err = mgr.CancelReservation(ctx, alice, res.ID)
	requireReason(t, err, ReasonNotAuthorized)

	clock.Advance(DefaultLoanPeriod + 2*day)
	returned, err := mgr.ReturnBook(ctx, alice, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", returned.FineAmount.String())

	got, err := mgr.GetMember(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentBorrowed)
	_, err = mgr.GetMember(ctx, alice, b.ID)
	requireReason(t, err, ReasonNotAuthorized)

	stats, err := mgr.Stats(ctx, librarian)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveLoans)
	assert.Equal(t, 1, stats.OverdueLoans)
	assert.Equal(t, 1, stats.ReturnedToday)
	// Bob's reservation lapsed by date; the sweep has not run yet.
	assert.Equal(t, 1, stats.PendingReservations)
}

func TestNewLibraryManagerOpensSQLite(t *testing.T) {
	mgr, err := NewLibraryManager(filepath.Join(t.TempDir(), "nested", "lib.db"))
	require.NoError(t, err)
	defer mgr.Close()

	books, err := mgr.ListBooks(context.Background(), Page{})
	require.NoError(t, err)
	assert.Empty(t, books.Items)
	assert.NotNil(t, mgr.Metrics())
}
