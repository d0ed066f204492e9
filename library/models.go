package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// CopyStatus is the shelf state of a single physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyIssued    CopyStatus = "ISSUED"
	CopyReserved  CopyStatus = "RESERVED"
	CopyDamaged   CopyStatus = "DAMAGED"
	CopyLost      CopyStatus = "LOST"
)

// Terminal reports whether no further transition is possible from s.
func (s CopyStatus) Terminal() bool {
	return s == CopyDamaged || s == CopyLost
}

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanIssued   LoanStatus = "ISSUED"
	LoanReturned LoanStatus = "RETURNED"
)

// MemberStatus controls whether a member may borrow.
type MemberStatus string

const (
	MemberActive    MemberStatus = "ACTIVE"
	MemberSuspended MemberStatus = "SUSPENDED"
)

// Tier is the membership plan a member was provisioned with.
type Tier string

const (
	TierStandard Tier = "STANDARD"
	TierStudent  Tier = "STUDENT"
	TierPremium  Tier = "PREMIUM"
)

// ReservationStatus is the lifecycle state of a hold.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Book is the catalog record copies are registered against. The counts are
// derived from book_copies on every read.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
}

// BookCopy is one physical item on the shelf.
type BookCopy struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	CopyNumber string     `json:"copy_number"`
	Status     CopyStatus `json:"status"`
	Location   string     `json:"location"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Loan records one copy lent to one member.
type Loan struct {
	ID         string          `json:"id"`
	BookCopyID string          `json:"book_copy_id"`
	MemberID   string          `json:"member_id"`
	IssueDate  time.Time       `json:"issue_date"`
	DueDate    time.Time       `json:"due_date"`
	ReturnDate *time.Time      `json:"return_date,omitempty"`
	Status     LoanStatus      `json:"status"`
	FineAmount decimal.Decimal `json:"fine_amount"`
}

// Overdue reports whether an open loan is past its due date at now.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == LoanIssued && now.After(l.DueDate)
}

// Member is a registered borrower. CurrentBorrowed is the live count of
// ISSUED loans and is never stored.
type Member struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Tier            Tier         `json:"tier"`
	Role            Role         `json:"role"`
	Status          MemberStatus `json:"status"`
	MaxBooksAllowed int          `json:"max_books_allowed"`
	CurrentBorrowed int          `json:"current_borrowed"`
	CreatedAt       time.Time    `json:"created_at"`
	PasswordHash    string       `json:"-"`
}

// Reservation is a member's place in the queue for an exhausted title.
// HeldCopyID is set while a copy sits in RESERVED status waiting for pickup.
type Reservation struct {
	ID              string            `json:"id"`
	BookID          string            `json:"book_id"`
	MemberID        string            `json:"member_id"`
	ReservationDate time.Time         `json:"reservation_date"`
	ExpiryDate      time.Time         `json:"expiry_date"`
	Status          ReservationStatus `json:"status"`
	HeldCopyID      *string           `json:"held_copy_id,omitempty"`
}

// PagedResult is one page of a listing.
type PagedResult[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Page selects a window of a listing. Zero values mean the first page of
// DefaultPageSize items.
type Page struct {
	Number int `validate:"gte=0"`
	Size   int `validate:"gte=0,lte=500"`
}

// DefaultPageSize is used when a listing does not ask for a size.
const DefaultPageSize = 50

func (p Page) normalize() Page {
	if p.Number <= 0 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	return p
}

func (p Page) offset() int { return (p.Number - 1) * p.Size }

// LoanFilter narrows ListLoans.
type LoanFilter struct {
	MemberID    string
	Status      LoanStatus `validate:"omitempty,oneof=ISSUED RETURNED"`
	OverdueOnly bool
	Page        Page
}

// ReservationFilter narrows ListReservations.
type ReservationFilter struct {
	BookID   string
	MemberID string
	Status   ReservationStatus `validate:"omitempty,oneof=PENDING FULFILLED CANCELLED EXPIRED"`
	Page     Page
}

// MemberFilter narrows ListMembers.
type MemberFilter struct {
	Status MemberStatus `validate:"omitempty,oneof=ACTIVE SUSPENDED"`
	Page   Page
}

// LoanStats summarises circulation for a dashboard.
type LoanStats struct {
	ActiveLoans         int `json:"active_loans"`
	OverdueLoans        int `json:"overdue_loans"`
	IssuedToday         int `json:"issued_today"`
	ReturnedToday       int `json:"returned_today"`
	PendingReservations int `json:"pending_reservations"`
}
