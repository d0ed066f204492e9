package library

import (
	"context"
	"errors"
	"log/slog"
)

const (
	logMsgLoanIssued   = "loan issued"
	logMsgLoanReturned = "loan returned"
	logMsgCopyAdded    = "copy registered"
	logMsgCopyRetired  = "copy retired"
	logAttrLoanID      = "loan_id"
	logAttrFine        = "fine"
	logAttrStatus      = "status"
	logAttrCopyNumber  = "copy_number"
)

// Engine drives copies and loans through circulation. Every operation is a
// single unit of work: either all of its writes land or none do.
type Engine struct {
	store   Store
	queue   *ReservationQueue
	fines   FineCalculator
	policy  Policy
	logger  *slog.Logger
	metrics *Metrics
}

// ReturnReceipt describes what happened to a copy on return.
type ReturnReceipt struct {
	Loan *Loan `json:"loan"`
	// HeldFor is the reservation the copy is now held for, if any.
	HeldFor *Reservation `json:"held_for,omitempty"`
}

// NewEngine creates an engine over store that hands returned copies to
// queue.
func NewEngine(store Store, queue *ReservationQueue, policy Policy, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy = policy.withDefaults()
	return &Engine{
		store:   store,
		queue:   queue,
		fines:   NewFineCalculator(policy.FineRate, policy.Location),
		policy:  policy,
		logger:  logger,
		metrics: metrics,
	}
}

// Issue lends copyID to memberID. A RESERVED copy can only be collected by
// the member it is held for.
func (e *Engine) Issue(ctx context.Context, copyID, memberID string) (*Loan, error) {
	now := e.policy.Now()
	var loan *Loan
	err := e.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		m, err := repo.GetMember(ctx, memberID)
		if err != nil {
			return orNotFound(err, ErrMemberNotFound)
		}
		if err := AuthorizeLoan(m); err != nil {
			return err
		}

		c, err := repo.GetCopy(ctx, copyID)
		if err != nil {
			return orNotFound(err, ErrCopyNotFound)
		}
		switch c.Status {
		case CopyAvailable:
		case CopyReserved:
			if err := e.collect(ctx, repo, c, memberID); err != nil {
				return err
			}
		default:
			return copyUnavailable(c.Status)
		}

		if err := transitionCopy(ctx, repo, c, CopyIssued); err != nil {
			return err
		}
		loan = &Loan{
			ID:         newID(),
			BookCopyID: c.ID,
			MemberID:   m.ID,
			IssueDate:  now,
			DueDate:    now.Add(e.policy.LoanPeriod),
			Status:     LoanIssued,
		}
		return repo.InsertLoan(ctx, loan)
	})
	if err != nil {
		e.metrics.rejected("issue", err)
		return nil, err
	}

	e.metrics.loanIssued()
	e.logger.Info(logMsgLoanIssued,
		logAttrLoanID, loan.ID,
		logAttrCopyID, copyID,
		logAttrMemberID, memberID,
	)
	return loan, nil
}

// collect clears the hold on a RESERVED copy for the member it is held for.
func (e *Engine) collect(ctx context.Context, repo Repository, c *BookCopy, memberID string) error {
	res, err := repo.ReservationHolding(ctx, c.ID)
	if errors.Is(err, ErrNoRecord) {
		return copyUnavailable(c.Status)
	}
	if err != nil {
		return err
	}
	if res.MemberID != memberID {
		return copyUnavailable(c.Status)
	}
	res.HeldCopyID = nil
	ok, err := repo.UpdateReservation(ctx, res, ReservationFulfilled)
	if err != nil {
		return err
	}
	if !ok {
		return errConflict
	}
	return nil
}

// Return closes loanID and assesses its fine.
func (e *Engine) Return(ctx context.Context, loanID string) (*Loan, error) {
	receipt, err := e.ReturnWithDetails(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return receipt.Loan, nil
}

// ReturnWithDetails closes loanID and reports whether the copy went to the
// next reservation in the queue or back on the shelf.
func (e *Engine) ReturnWithDetails(ctx context.Context, loanID string) (*ReturnReceipt, error) {
	now := e.policy.Now()
	var receipt *ReturnReceipt
	err := e.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		l, err := repo.GetLoan(ctx, loanID)
		if err != nil {
			return orNotFound(err, ErrLoanNotFound)
		}
		if l.Status == LoanReturned {
			return ErrAlreadyReturned
		}

		fine := e.fines.Compute(l.DueDate, now)
		ok, err := repo.CloseLoan(ctx, l.ID, now, fine)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyReturned
		}
		returned := now
		l.Status = LoanReturned
		l.ReturnDate = &returned
		l.FineAmount = fine
		receipt = &ReturnReceipt{Loan: l}

		c, err := repo.GetCopy(ctx, l.BookCopyID)
		if err != nil {
			return err
		}
		if c.Status != CopyIssued {
			return nil
		}
		if err := transitionCopy(ctx, repo, c, CopyAvailable); err != nil {
			return err
		}
		receipt.HeldFor, err = e.queue.offer(ctx, repo, c, now)
		return err
	})
	if err != nil {
		e.metrics.rejected("return", err)
		return nil, err
	}

	e.metrics.loanReturned(receipt.Loan.FineAmount)
	e.logger.Info(logMsgLoanReturned,
		logAttrLoanID, receipt.Loan.ID,
		logAttrCopyID, receipt.Loan.BookCopyID,
		logAttrMemberID, receipt.Loan.MemberID,
		logAttrFine, receipt.Loan.FineAmount.StringFixed(2),
	)
	if receipt.HeldFor != nil {
		e.queue.fulfilled(receipt.HeldFor)
	}
	return receipt, nil
}

// AddCopy registers a new copy of bookID. If members are waiting for the
// title the copy goes straight to the oldest of them.
func (e *Engine) AddCopy(ctx context.Context, bookID, location string) (*BookCopy, error) {
	now := e.policy.Now()
	var (
		c       *BookCopy
		offered *Reservation
	)
	err := e.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetBook(ctx, bookID); err != nil {
			return orNotFound(err, ErrBookNotFound)
		}
		numbers, err := repo.ListCopyNumbers(ctx, bookID)
		if err != nil {
			return err
		}
		c = &BookCopy{
			ID:         newID(),
			BookID:     bookID,
			CopyNumber: NextCopyNumber(numbers),
			Status:     CopyAvailable,
			Location:   location,
			CreatedAt:  now,
		}
		if err := repo.InsertCopy(ctx, c); err != nil {
			return err
		}
		offered, err = e.queue.offer(ctx, repo, c, now)
		return err
	})
	if err != nil {
		e.metrics.rejected("add_copy", err)
		return nil, err
	}

	e.logger.Info(logMsgCopyAdded,
		logAttrCopyID, c.ID,
		logAttrBookID, bookID,
		logAttrCopyNumber, c.CopyNumber,
	)
	if offered != nil {
		e.queue.fulfilled(offered)
	}
	return c, nil
}

// MarkDamaged takes a copy out of circulation as damaged.
func (e *Engine) MarkDamaged(ctx context.Context, copyID string) (*BookCopy, error) {
	return e.retire(ctx, copyID, CopyDamaged)
}

// MarkLost takes a copy out of circulation as lost.
func (e *Engine) MarkLost(ctx context.Context, copyID string) (*BookCopy, error) {
	return e.retire(ctx, copyID, CopyLost)
}

// retire moves a copy to a terminal status. A copy on loan must be returned
// first. A hold on the copy goes back in the queue and the title's queue is
// offered another shelf copy.
func (e *Engine) retire(ctx context.Context, copyID string, to CopyStatus) (*BookCopy, error) {
	now := e.policy.Now()
	var (
		c       *BookCopy
		offered *Reservation
	)
	err := e.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		offered = nil
		var err error
		c, err = repo.GetCopy(ctx, copyID)
		if err != nil {
			return orNotFound(err, ErrCopyNotFound)
		}
		if !CanTransition(c.Status, to) {
			return invalidTransition(c.Status, to)
		}
		onLoan, err := repo.HasActiveLoan(ctx, c.ID)
		if err != nil {
			return err
		}
		if onLoan {
			return invalidTransition(c.Status, to).WithDetails(map[string]string{
				"from":   string(c.Status),
				"to":     string(to),
				"reason": "copy is on loan",
			})
		}

		released := false
		if c.Status == CopyReserved {
			if released, err = e.queue.release(ctx, repo, c, now); err != nil {
				return err
			}
		}
		if err := transitionCopy(ctx, repo, c, to); err != nil {
			return err
		}
		if !released {
			return nil
		}

		spare, err := repo.FindAvailableCopy(ctx, c.BookID)
		if errors.Is(err, ErrNoRecord) {
			return nil
		}
		if err != nil {
			return err
		}
		offered, err = e.queue.offer(ctx, repo, spare, now)
		return err
	})
	if err != nil {
		e.metrics.rejected("retire_copy", err)
		return nil, err
	}

	e.logger.Info(logMsgCopyRetired, logAttrCopyID, c.ID, logAttrStatus, string(to))
	if offered != nil {
		e.queue.fulfilled(offered)
	}
	return c, nil
}

// GetCopy returns one copy.
func (e *Engine) GetCopy(ctx context.Context, id string) (*BookCopy, error) {
	var c *BookCopy
	err := e.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		c, err = repo.GetCopy(ctx, id)
		return orNotFound(err, ErrCopyNotFound)
	})
	return c, err
}

// ListCopies returns every copy of bookID ordered by copy number.
func (e *Engine) ListCopies(ctx context.Context, bookID string) ([]*BookCopy, error) {
	var copies []*BookCopy
	err := e.store.View(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetBook(ctx, bookID); err != nil {
			return orNotFound(err, ErrBookNotFound)
		}
		var err error
		copies, err = repo.ListCopies(ctx, bookID)
		return err
	})
	return copies, err
}

// GetLoan returns one loan.
func (e *Engine) GetLoan(ctx context.Context, id string) (*Loan, error) {
	var l *Loan
	err := e.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		l, err = repo.GetLoan(ctx, id)
		return orNotFound(err, ErrLoanNotFound)
	})
	return l, err
}

// ListLoans returns loans newest first.
func (e *Engine) ListLoans(ctx context.Context, f LoanFilter) (PagedResult[*Loan], error) {
	var out PagedResult[*Loan]
	err := e.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListLoans(ctx, f, e.policy.Now())
		return err
	})
	return out, err
}

// Stats summarises circulation as of now.
func (e *Engine) Stats(ctx context.Context) (LoanStats, error) {
	var stats LoanStats
	err := e.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		stats, err = repo.LoanStats(ctx, e.policy.Now().In(e.policy.Location))
		return err
	})
	return stats, err
}
