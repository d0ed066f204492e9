package library

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultLoanPeriod is how long a copy may be kept.
	DefaultLoanPeriod = 14 * 24 * time.Hour
	// DefaultReservationWindow is how long a reservation waits in the queue,
	// and how long a fulfilled one holds its copy for pickup.
	DefaultReservationWindow = 7 * 24 * time.Hour
)

// Policy holds the circulation rules shared by the engine and the queue.
type Policy struct {
	LoanPeriod        time.Duration
	ReservationWindow time.Duration
	// FineRate is charged per overdue day. Zero is a valid rate and means no
	// fines are charged; DefaultPolicy sets DefaultFineRate.
	FineRate decimal.Decimal
	// Location is the calendar fines and daily stats are counted in. Nil
	// means time.Local.
	Location *time.Location
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultPolicy returns the standard library rules.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod:        DefaultLoanPeriod,
		ReservationWindow: DefaultReservationWindow,
		FineRate:          DefaultFineRate,
		Location:          time.Local,
	}
}

func (p Policy) withDefaults() Policy {
	if p.LoanPeriod <= 0 {
		p.LoanPeriod = DefaultLoanPeriod
	}
	if p.ReservationWindow <= 0 {
		p.ReservationWindow = DefaultReservationWindow
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

// newID returns a time-ordered identifier, so ids created later sort later.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// orNotFound maps a missing row to the given domain error.
func orNotFound(err error, notFound *Error) error {
	if errors.Is(err, ErrNoRecord) {
		return notFound
	}
	return err
}
