package library

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	logMsgReservationCreated   = "reservation created"
	logMsgReservationFulfilled = "reservation fulfilled"
	logMsgReservationCancelled = "reservation cancelled"
	logMsgReservationExpired   = "reservation expired"
	logMsgHoldReleased         = "held copy released"
	logMsgExpirySweepFailed    = "expiry sweep stopped"
	logAttrReservationID       = "reservation_id"
	logAttrBookID              = "book_id"
	logAttrMemberID            = "member_id"
	logAttrCopyID              = "copy_id"
)

// ReservationQueue owns the hold queue of each title. Holds are served
// first come first served by reservation date, ties broken by id.
type ReservationQueue struct {
	store   Store
	policy  Policy
	logger  *slog.Logger
	metrics *Metrics
}

// ExpiryReport summarises one ExpireStale sweep.
type ExpiryReport struct {
	Expired        int `json:"expired"`
	Reoffered      int `json:"reoffered"`
	ReleasedCopies int `json:"released_copies"`
}

// NewReservationQueue creates a queue over store.
func NewReservationQueue(store Store, policy Policy, logger *slog.Logger, metrics *Metrics) *ReservationQueue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReservationQueue{
		store:   store,
		policy:  policy.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Reserve puts memberID in the queue for bookID. Reservations are only
// taken once every copy of the title is out.
func (q *ReservationQueue) Reserve(ctx context.Context, bookID, memberID string) (*Reservation, error) {
	now := q.policy.Now()
	var res *Reservation
	err := q.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		m, err := repo.GetMember(ctx, memberID)
		if err != nil {
			return orNotFound(err, ErrMemberNotFound)
		}
		if m.Status != MemberActive {
			return ErrMemberInactive
		}
		b, err := repo.GetBook(ctx, bookID)
		if err != nil {
			return orNotFound(err, ErrBookNotFound)
		}
		if b.AvailableCopies > 0 {
			return ErrBookAvailable.WithDetails(map[string]int{"available_copies": b.AvailableCopies})
		}
		dup, err := repo.HasPendingReservation(ctx, bookID, memberID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateReservation
		}

		res = &Reservation{
			ID:              newID(),
			BookID:          bookID,
			MemberID:        memberID,
			ReservationDate: now,
			ExpiryDate:      now.Add(q.policy.ReservationWindow),
			Status:          ReservationPending,
		}
		return repo.InsertReservation(ctx, res)
	})
	if err != nil {
		q.metrics.rejected("reserve", err)
		return nil, err
	}

	q.metrics.reservation(ReservationPending)
	q.logger.Info(logMsgReservationCreated,
		logAttrReservationID, res.ID,
		logAttrBookID, bookID,
		logAttrMemberID, memberID,
	)
	return res, nil
}

// Cancel withdraws a pending reservation. Members may cancel their own;
// staff may cancel any.
func (q *ReservationQueue) Cancel(ctx context.Context, id string, actor Actor) (*Reservation, error) {
	var res *Reservation
	err := q.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		res, err = repo.GetReservation(ctx, id)
		if err != nil {
			return orNotFound(err, ErrNotFound)
		}
		if !actor.CanActFor(res.MemberID) {
			return ErrNotAuthorized
		}
		if res.Status != ReservationPending {
			return ErrNotPending.WithDetails(map[string]string{"status": string(res.Status)})
		}
		res.Status = ReservationCancelled
		ok, err := repo.UpdateReservation(ctx, res, ReservationPending)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}
		return nil
	})
	if err != nil {
		q.metrics.rejected("cancel_reservation", err)
		return nil, err
	}

	q.metrics.reservation(ReservationCancelled)
	q.logger.Info(logMsgReservationCancelled,
		logAttrReservationID, res.ID,
		logAttrMemberID, res.MemberID,
		"actor", actor.MemberID,
	)
	return res, nil
}

// Get returns one reservation.
func (q *ReservationQueue) Get(ctx context.Context, id string) (*Reservation, error) {
	var res *Reservation
	err := q.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		res, err = repo.GetReservation(ctx, id)
		return orNotFound(err, ErrNotFound)
	})
	return res, err
}

// List returns reservations in queue order.
func (q *ReservationQueue) List(ctx context.Context, f ReservationFilter) (PagedResult[*Reservation], error) {
	var out PagedResult[*Reservation]
	err := q.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListReservations(ctx, f)
		return err
	})
	return out, err
}

// ExpireStale expires pending reservations past their expiry date and
// fulfilled ones whose copy was not collected in time. A released copy goes
// back on the shelf and is offered to the next live reservation for the
// title. Each reservation is settled in its own unit of work.
func (q *ReservationQueue) ExpireStale(ctx context.Context) (ExpiryReport, error) {
	now := q.policy.Now()
	var report ExpiryReport

	var stale []*Reservation
	err := q.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		stale, err = repo.ListStaleReservations(ctx, now)
		return err
	})
	if err != nil {
		return report, err
	}

	for _, candidate := range stale {
		var (
			expired  *Reservation
			released *BookCopy
			offered  *Reservation
		)
		err := q.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
			expired, released, offered = nil, nil, nil
			res, err := repo.GetReservation(ctx, candidate.ID)
			if err != nil {
				return err
			}
			waiting := res.Status == ReservationPending ||
				(res.Status == ReservationFulfilled && res.HeldCopyID != nil)
			if !waiting || !res.ExpiryDate.Before(now) {
				return nil
			}

			from := res.Status
			heldCopyID := res.HeldCopyID
			res.Status = ReservationExpired
			res.HeldCopyID = nil
			ok, err := repo.UpdateReservation(ctx, res, from)
			if err != nil {
				return err
			}
			if !ok {
				return errConflict
			}
			expired = res

			if heldCopyID == nil {
				return nil
			}
			c, err := repo.GetCopy(ctx, *heldCopyID)
			if err != nil {
				return err
			}
			if c.Status != CopyReserved {
				return nil
			}
			if err := transitionCopy(ctx, repo, c, CopyAvailable); err != nil {
				return err
			}
			released = c
			offered, err = q.offer(ctx, repo, c, now)
			return err
		})
		if err != nil {
			q.logger.Error(logMsgExpirySweepFailed, logAttrReservationID, candidate.ID, logAttrError, err)
			return report, err
		}
		if expired == nil {
			continue
		}

		report.Expired++
		q.metrics.reservation(ReservationExpired)
		q.logger.Info(logMsgReservationExpired,
			logAttrReservationID, expired.ID,
			logAttrBookID, expired.BookID,
			logAttrMemberID, expired.MemberID,
		)
		if released != nil {
			report.ReleasedCopies++
			q.logger.Info(logMsgHoldReleased, logAttrCopyID, released.ID, logAttrBookID, released.BookID)
		}
		if offered != nil {
			report.Reoffered++
			q.fulfilled(offered)
		}
	}
	return report, nil
}

// offer holds an AVAILABLE copy for the oldest live pending reservation of
// its title. It returns the fulfilled reservation, or nil when nobody is
// waiting and the copy stays on the shelf.
func (q *ReservationQueue) offer(ctx context.Context, repo Repository, c *BookCopy, now time.Time) (*Reservation, error) {
	if c.Status != CopyAvailable {
		return nil, nil
	}
	// Reserve checks availability under the same book lock, so it either
	// sees this copy on the shelf or its reservation is visible here.
	if _, err := repo.GetBook(ctx, c.BookID); err != nil {
		return nil, err
	}
	res, err := repo.NextPendingReservation(ctx, c.BookID, now)
	if errors.Is(err, ErrNoRecord) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := transitionCopy(ctx, repo, c, CopyReserved); err != nil {
		return nil, err
	}
	heldID := c.ID
	res.Status = ReservationFulfilled
	res.HeldCopyID = &heldID
	res.ExpiryDate = now.Add(q.policy.ReservationWindow)
	ok, err := repo.UpdateReservation(ctx, res, ReservationPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errConflict
	}
	return res, nil
}

// release puts the reservation holding a RESERVED copy back in the queue
// at its original position. It reports whether a reservation was released.
func (q *ReservationQueue) release(ctx context.Context, repo Repository, c *BookCopy, now time.Time) (bool, error) {
	res, err := repo.ReservationHolding(ctx, c.ID)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res.Status = ReservationPending
	res.HeldCopyID = nil
	res.ExpiryDate = now.Add(q.policy.ReservationWindow)
	ok, err := repo.UpdateReservation(ctx, res, ReservationFulfilled)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errConflict
	}
	return true, nil
}

func (q *ReservationQueue) fulfilled(res *Reservation) {
	q.metrics.reservation(ReservationFulfilled)
	attrs := []any{
		logAttrReservationID, res.ID,
		logAttrBookID, res.BookID,
		logAttrMemberID, res.MemberID,
	}
	if res.HeldCopyID != nil {
		attrs = append(attrs, logAttrCopyID, *res.HeldCopyID)
	}
	q.logger.Info(logMsgReservationFulfilled, attrs...)
}
