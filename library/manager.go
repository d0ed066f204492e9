package library

import (
	"context"
	"log/slog"
)

// LibraryManager is a thin façade over the circulation services, keeping
// CLI code simple. It validates requests and checks that the acting member
// may perform each operation.
type LibraryManager struct {
	store     Store
	engine    *Engine
	queue     *ReservationQueue
	catalog   *Catalog
	members   *Members
	auth      Authenticator
	validator *Validator
	metrics   *Metrics
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath with
// the default policy.
func NewLibraryManager(dbPath string) (*LibraryManager, error) {
	metrics := NewMetrics()
	db, err := NewDatabase(dbPath, WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	return NewLibraryManagerFromStore(db, DefaultPolicy(), nil, metrics), nil
}

// NewLibraryManagerFromStore wires the services over an open store.
func NewLibraryManagerFromStore(store Store, policy Policy, logger *slog.Logger, metrics *Metrics) *LibraryManager {
	queue := NewReservationQueue(store, policy, logger, metrics)
	return &LibraryManager{
		store:     store,
		engine:    NewEngine(store, queue, policy, logger, metrics),
		queue:     queue,
		catalog:   NewCatalog(store, policy, logger),
		members:   NewMembers(store, policy, logger),
		auth:      NewPasswordAuthenticator(store),
		validator: NewValidator(),
		metrics:   metrics,
	}
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// Metrics returns the counters the services record on.
func (lm *LibraryManager) Metrics() *Metrics { return lm.metrics }

// authorize allows actors acting for themselves and staff acting for anyone.
func authorize(actor Actor, memberID string) error {
	switch actor.Role {
	case RoleAdmin, RoleLibrarian:
		return nil
	case RoleMember:
		if actor.MemberID != "" && actor.MemberID == memberID {
			return nil
		}
		return ErrNotAuthorized
	default:
		return ErrNotAuthorized
	}
}

func requireStaff(actor Actor) error {
	if !actor.IsStaff() {
		return ErrNotAuthorized
	}
	return nil
}

// ------------------ Authentication ------------------

// AuthenticateMember resolves credentials to the acting member.
func (lm *LibraryManager) AuthenticateMember(ctx context.Context, memberID, password string) (Actor, error) {
	return lm.auth.Authenticate(ctx, memberID, password)
}

// ResetMemberPassword changes a password. Members may only change their own.
func (lm *LibraryManager) ResetMemberPassword(ctx context.Context, actor Actor, memberID, password string) error {
	if err := authorize(actor, memberID); err != nil {
		return err
	}
	req := struct {
		MemberID string `json:"member_id" validate:"required"`
		Password string `json:"password" validate:"required,min=4,max=72"`
	}{memberID, password}
	if err := lm.validator.Validate(req); err != nil {
		return err
	}
	return lm.members.ResetPassword(ctx, memberID, password)
}

// ------------------ Book helpers ------------------

// NewBook describes a catalog entry to create.
type NewBook struct {
	Title  string `json:"title" validate:"required,max=500"`
	Author string `json:"author" validate:"required,max=300"`
	ISBN   string `json:"isbn" validate:"max=32"`
}

func (lm *LibraryManager) AddBook(ctx context.Context, actor Actor, req NewBook) (*Book, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := lm.validator.Validate(req); err != nil {
		return nil, err
	}
	return lm.catalog.AddBook(ctx, req.Title, req.Author, req.ISBN)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id string) (*Book, error) {
	return lm.catalog.GetBook(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context, page Page) (PagedResult[*Book], error) {
	if err := lm.validator.Validate(page); err != nil {
		return PagedResult[*Book]{}, err
	}
	return lm.catalog.ListBooks(ctx, page)
}

// ------------------ Copy helpers ------------------

func (lm *LibraryManager) AddCopy(ctx context.Context, actor Actor, bookID, location string) (*BookCopy, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	req := struct {
		BookID   string `json:"book_id" validate:"required"`
		Location string `json:"location" validate:"max=100"`
	}{bookID, location}
	if err := lm.validator.Validate(req); err != nil {
		return nil, err
	}
	return lm.engine.AddCopy(ctx, bookID, location)
}

func (lm *LibraryManager) MarkDamaged(ctx context.Context, actor Actor, copyID string) (*BookCopy, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return lm.engine.MarkDamaged(ctx, copyID)
}

func (lm *LibraryManager) MarkLost(ctx context.Context, actor Actor, copyID string) (*BookCopy, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return lm.engine.MarkLost(ctx, copyID)
}

func (lm *LibraryManager) GetCopy(ctx context.Context, id string) (*BookCopy, error) {
	return lm.engine.GetCopy(ctx, id)
}

func (lm *LibraryManager) ListCopies(ctx context.Context, bookID string) ([]*BookCopy, error) {
	return lm.engine.ListCopies(ctx, bookID)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, actor Actor, req NewMember) (*Member, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	// Only admins may create other staff.
	if req.Role != "" && req.Role != RoleMember && actor.Role != RoleAdmin {
		return nil, ErrNotAuthorized
	}
	if err := lm.validator.Validate(req); err != nil {
		return nil, err
	}
	return lm.members.Add(ctx, req)
}

// Bootstrap creates the first administrator of an empty library.
func (lm *LibraryManager) Bootstrap(ctx context.Context, name, password string) (*Member, error) {
	req := NewMember{Name: name, Password: password}
	if err := lm.validator.Validate(req); err != nil {
		return nil, err
	}
	return lm.members.Bootstrap(ctx, name, password)
}

func (lm *LibraryManager) GetMember(ctx context.Context, actor Actor, id string) (*Member, error) {
	if err := authorize(actor, id); err != nil {
		return nil, err
	}
	return lm.members.Get(ctx, id)
}

func (lm *LibraryManager) ListMembers(ctx context.Context, actor Actor, f MemberFilter) (PagedResult[*Member], error) {
	if err := requireStaff(actor); err != nil {
		return PagedResult[*Member]{}, err
	}
	if err := lm.validator.Validate(f); err != nil {
		return PagedResult[*Member]{}, err
	}
	return lm.members.List(ctx, f)
}

func (lm *LibraryManager) SetMemberStatus(ctx context.Context, actor Actor, id string, status MemberStatus) (*Member, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return lm.members.SetStatus(ctx, id, status)
}

func (lm *LibraryManager) ReprovisionMember(ctx context.Context, actor Actor, id string, tier Tier) (*Member, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return lm.members.Reprovision(ctx, id, tier)
}

// ------------------ Circulation ------------------

// CheckoutBook issues copyID to memberID.
func (lm *LibraryManager) CheckoutBook(ctx context.Context, actor Actor, copyID, memberID string) (*Loan, error) {
	if err := authorize(actor, memberID); err != nil {
		return nil, err
	}
	return lm.engine.Issue(ctx, copyID, memberID)
}

// ReturnBook closes a loan and returns the fine assessed.
func (lm *LibraryManager) ReturnBook(ctx context.Context, actor Actor, loanID string) (*Loan, error) {
	receipt, err := lm.ReturnBookWithDetails(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}
	return receipt.Loan, nil
}

// ReturnBookWithDetails closes a loan and reports where the copy went.
func (lm *LibraryManager) ReturnBookWithDetails(ctx context.Context, actor Actor, loanID string) (*ReturnReceipt, error) {
	if !actor.IsStaff() {
		l, err := lm.engine.GetLoan(ctx, loanID)
		if err != nil {
			return nil, err
		}
		if err := authorize(actor, l.MemberID); err != nil {
			return nil, err
		}
	}
	return lm.engine.ReturnWithDetails(ctx, loanID)
}

func (lm *LibraryManager) GetLoan(ctx context.Context, actor Actor, id string) (*Loan, error) {
	l, err := lm.engine.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, l.MemberID); err != nil {
		return nil, err
	}
	return l, nil
}

// ListLoans lists loans. Members only ever see their own.
func (lm *LibraryManager) ListLoans(ctx context.Context, actor Actor, f LoanFilter) (PagedResult[*Loan], error) {
	if !actor.IsStaff() {
		f.MemberID = actor.MemberID
	}
	if err := lm.validator.Validate(f); err != nil {
		return PagedResult[*Loan]{}, err
	}
	return lm.engine.ListLoans(ctx, f)
}

func (lm *LibraryManager) Stats(ctx context.Context, actor Actor) (LoanStats, error) {
	if err := requireStaff(actor); err != nil {
		return LoanStats{}, err
	}
	return lm.engine.Stats(ctx)
}

// ------------------ Reservation helpers ------------------

func (lm *LibraryManager) ReserveBook(ctx context.Context, actor Actor, bookID, memberID string) (*Reservation, error) {
	if err := authorize(actor, memberID); err != nil {
		return nil, err
	}
	return lm.queue.Reserve(ctx, bookID, memberID)
}

func (lm *LibraryManager) CancelReservation(ctx context.Context, actor Actor, id string) (*Reservation, error) {
	return lm.queue.Cancel(ctx, id, actor)
}

// ListReservations lists reservations in queue order. Members only ever see
// their own.
func (lm *LibraryManager) ListReservations(ctx context.Context, actor Actor, f ReservationFilter) (PagedResult[*Reservation], error) {
	if !actor.IsStaff() {
		f.MemberID = actor.MemberID
	}
	if err := lm.validator.Validate(f); err != nil {
		return PagedResult[*Reservation]{}, err
	}
	return lm.queue.List(ctx, f)
}

// ExpireReservations runs one expiry sweep.
func (lm *LibraryManager) ExpireReservations(ctx context.Context, actor Actor) (ExpiryReport, error) {
	if err := requireStaff(actor); err != nil {
		return ExpiryReport{}, err
	}
	return lm.queue.ExpireStale(ctx)
}
