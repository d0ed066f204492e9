package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFineRate is charged per whole day a loan is overdue.
var DefaultFineRate = decimal.NewFromInt(1)

// FineCalculator computes overdue charges. It never reads the wall clock.
type FineCalculator struct {
	Rate decimal.Decimal
	// Location is the library's calendar. Nil means time.Local.
	Location *time.Location
}

// NewFineCalculator returns a calculator charging rate per day, counting days
// on the calendar of loc. A negative rate is treated as zero.
func NewFineCalculator(rate decimal.Decimal, loc *time.Location) FineCalculator {
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	return FineCalculator{Rate: rate, Location: loc}
}

// Compute returns the fine for a loan due at due and returned at returned.
// Days are counted as calendar days in the library's location, so returning
// at 23:59 on the due date is on time and returning at 00:01 the next day is
// one day late. The result does not depend on the location due or returned
// carry.
func (f FineCalculator) Compute(due, returned time.Time) decimal.Decimal {
	days := DaysLate(due, returned, f.Location)
	if days == 0 {
		return decimal.Zero
	}
	return f.Rate.Mul(decimal.NewFromInt(int64(days)))
}

// DaysLate is the number of civil days in loc between due and returned,
// floored at zero. A nil loc means time.Local.
func DaysLate(due, returned time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	dy, dm, dd := due.In(loc).Date()
	ry, rm, rd := returned.In(loc).Date()
	dueDay := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	retDay := time.Date(ry, rm, rd, 0, 0, 0, 0, time.UTC)
	days := int(retDay.Sub(dueDay).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
