package library

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoRecord is returned by Repository lookups that match no row.
var ErrNoRecord = errors.New("no record")

// Store runs units of work against the persistent state. Atomic commits fn's
// writes together or not at all; View is read-only.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	View(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Close() error
}

// Repository is the data access surface used inside a unit of work. Single
// row lookups inside Atomic lock the row on engines that support it.
type Repository interface {
	CatalogRepository
	MemberRepository
	CopyRepository
	LoanRepository
	ReservationRepository
}

// CatalogRepository reads and writes book records.
type CatalogRepository interface {
	InsertBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context, page Page) (PagedResult[*Book], error)
}

// MemberRepository reads and writes members. GetMember fills CurrentBorrowed
// from the live loan count.
type MemberRepository interface {
	InsertMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, id string) (*Member, error)
	UpdateMemberStatus(ctx context.Context, id string, status MemberStatus) error
	UpdateMemberProvisioning(ctx context.Context, id string, tier Tier, maxBooks int) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	ListMembers(ctx context.Context, f MemberFilter) (PagedResult[*Member], error)
	// ClaimBootstrap records that the first administrator was created. A
	// second claim fails with a unique violation.
	ClaimBootstrap(ctx context.Context, adminID string) error
}

// CopyRepository reads and writes book copies. SwapCopyStatus only succeeds
// when the row still has status from.
type CopyRepository interface {
	InsertCopy(ctx context.Context, c *BookCopy) error
	GetCopy(ctx context.Context, id string) (*BookCopy, error)
	FindAvailableCopy(ctx context.Context, bookID string) (*BookCopy, error)
	ListCopies(ctx context.Context, bookID string) ([]*BookCopy, error)
	ListCopyNumbers(ctx context.Context, bookID string) ([]string, error)
	SwapCopyStatus(ctx context.Context, id string, from, to CopyStatus) (bool, error)
}

// LoanRepository reads and writes loans. CloseLoan only succeeds on an
// ISSUED loan.
type LoanRepository interface {
	InsertLoan(ctx context.Context, l *Loan) error
	GetLoan(ctx context.Context, id string) (*Loan, error)
	CloseLoan(ctx context.Context, id string, returned time.Time, fine decimal.Decimal) (bool, error)
	HasActiveLoan(ctx context.Context, copyID string) (bool, error)
	ListLoans(ctx context.Context, f LoanFilter, now time.Time) (PagedResult[*Loan], error)
	LoanStats(ctx context.Context, now time.Time) (LoanStats, error)
}

// ReservationRepository reads and writes reservations.
// NextPendingReservation returns the head of a title's queue, skipping
// entries already past their expiry date. UpdateReservation writes status,
// expiry date and held copy only when the row still has status from.
type ReservationRepository interface {
	InsertReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	HasPendingReservation(ctx context.Context, bookID, memberID string) (bool, error)
	NextPendingReservation(ctx context.Context, bookID string, now time.Time) (*Reservation, error)
	ReservationHolding(ctx context.Context, copyID string) (*Reservation, error)
	UpdateReservation(ctx context.Context, r *Reservation, from ReservationStatus) (bool, error)
	ListStaleReservations(ctx context.Context, now time.Time) ([]*Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) (PagedResult[*Reservation], error)
}
