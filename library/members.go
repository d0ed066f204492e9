package library

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	logMsgMemberAdded       = "member added"
	logMsgMemberStatus      = "member status changed"
	logMsgMemberProvisioned = "member reprovisioned"
	logMsgPasswordReset     = "member password reset"
	logAttrTier             = "tier"
	logAttrMaxBooks         = "max_books_allowed"
)

// Members manages member records. The borrowing cap is set from the tier
// table when a member is created and only changes through Reprovision.
type Members struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewMembers creates a member service over store.
func NewMembers(store Store, policy Policy, logger *slog.Logger) *Members {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Members{store: store, now: policy.withDefaults().Now, logger: logger}
}

// NewMember describes a member to create.
type NewMember struct {
	Name     string `json:"name" validate:"required,max=200"`
	Tier     Tier   `json:"tier" validate:"omitempty,oneof=STANDARD STUDENT PREMIUM"`
	Role     Role   `json:"role" validate:"omitempty,oneof=ADMIN LIBRARIAN MEMBER"`
	Password string `json:"password" validate:"required,min=4,max=72"`
}

// Add creates an ACTIVE member whose cap comes from the tier table.
func (s *Members) Add(ctx context.Context, req NewMember) (*Member, error) {
	m, err := s.build(req)
	if err != nil {
		return nil, err
	}
	err = s.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		return repo.InsertMember(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.added(m)
	return m, nil
}

func (s *Members) build(req NewMember) (*Member, error) {
	tier, err := ParseTier(string(req.Tier))
	if err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return nil, Validationf("unknown role %q", role)
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	return &Member{
		ID:              newID(),
		Name:            strings.TrimSpace(req.Name),
		Tier:            tier,
		Role:            role,
		Status:          MemberActive,
		MaxBooksAllowed: MaxBooksForTier(tier),
		CreatedAt:       s.now(),
		PasswordHash:    hash,
	}, nil
}

func (s *Members) added(m *Member) {
	s.logger.Info(logMsgMemberAdded,
		logAttrMemberID, m.ID,
		logAttrTier, string(m.Tier),
		logAttrMaxBooks, m.MaxBooksAllowed,
	)
}

// Bootstrap creates the first ADMIN when no members exist yet. It fails with
// NotAuthorized once any member is registered. Concurrent attempts collide
// on the bootstrap claim; the retried loser sees the winner's admin.
func (s *Members) Bootstrap(ctx context.Context, name, password string) (*Member, error) {
	m, err := s.build(NewMember{Name: name, Tier: TierPremium, Role: RoleAdmin, Password: password})
	if err != nil {
		return nil, err
	}
	err = s.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		page, err := repo.ListMembers(ctx, MemberFilter{Page: Page{Size: 1}})
		if err != nil {
			return err
		}
		if page.Total > 0 {
			return newError(ReasonNotAuthorized, "library already has members")
		}
		if err := repo.InsertMember(ctx, m); err != nil {
			return err
		}
		return repo.ClaimBootstrap(ctx, m.ID)
	})
	if err != nil {
		return nil, err
	}
	s.added(m)
	return m, nil
}

// Get returns a member with the live count of open loans.
func (s *Members) Get(ctx context.Context, id string) (*Member, error) {
	var m *Member
	err := s.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		m, err = repo.GetMember(ctx, id)
		return orNotFound(err, ErrMemberNotFound)
	})
	return m, err
}

// SetStatus activates or suspends a member. The borrowing cap is untouched.
func (s *Members) SetStatus(ctx context.Context, id string, status MemberStatus) (*Member, error) {
	if status != MemberActive && status != MemberSuspended {
		return nil, Validationf("unknown member status %q", status)
	}
	var m *Member
	err := s.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateMemberStatus(ctx, id, status); err != nil {
			return orNotFound(err, ErrMemberNotFound)
		}
		var err error
		m, err = repo.GetMember(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(logMsgMemberStatus, logAttrMemberID, id, logAttrStatus, string(status))
	return m, nil
}

// Reprovision moves a member to tier and resets the cap from the tier
// table. Loans already out are kept even if they exceed the new cap.
func (s *Members) Reprovision(ctx context.Context, id string, tier Tier) (*Member, error) {
	tier, err := ParseTier(string(tier))
	if err != nil {
		return nil, err
	}
	var m *Member
	err = s.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateMemberProvisioning(ctx, id, tier, MaxBooksForTier(tier)); err != nil {
			return orNotFound(err, ErrMemberNotFound)
		}
		var err error
		m, err = repo.GetMember(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(logMsgMemberProvisioned,
		logAttrMemberID, id,
		logAttrTier, string(tier),
		logAttrMaxBooks, m.MaxBooksAllowed,
	)
	return m, nil
}

// ResetPassword replaces a member's password.
func (s *Members) ResetPassword(ctx context.Context, id, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	err = s.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		return orNotFound(repo.SetPasswordHash(ctx, id, hash), ErrMemberNotFound)
	})
	if err != nil {
		return err
	}
	s.logger.Info(logMsgPasswordReset, logAttrMemberID, id)
	return nil
}

// List returns members in the order they joined.
func (s *Members) List(ctx context.Context, f MemberFilter) (PagedResult[*Member], error) {
	var out PagedResult[*Member]
	err := s.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListMembers(ctx, f)
		return err
	})
	return out, err
}
