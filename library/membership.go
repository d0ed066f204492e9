package library

// Role is the closed set of caller roles.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleLibrarian Role = "LIBRARIAN"
	RoleMember    Role = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleMember:
		return true
	default:
		return false
	}
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	MemberID string
	Role     Role
}

// IsStaff reports whether the actor may act on other members' records.
func (a Actor) IsStaff() bool {
	switch a.Role {
	case RoleAdmin, RoleLibrarian:
		return true
	case RoleMember:
		return false
	default:
		return false
	}
}

// CanActFor reports whether the actor may act on records owned by memberID.
func (a Actor) CanActFor(memberID string) bool {
	return a.MemberID == memberID || a.IsStaff()
}

// DefaultMaxBooks is the cap for members whose tier is not in the table.
const DefaultMaxBooks = 3

var tierLimits = map[Tier]int{
	TierStandard: 3,
	TierStudent:  5,
	TierPremium:  10,
}

// MaxBooksForTier returns the borrowing cap provisioned for tier.
func MaxBooksForTier(t Tier) int {
	if n, ok := tierLimits[t]; ok {
		return n
	}
	return DefaultMaxBooks
}

// ParseTier normalises an empty tier to STANDARD and rejects unknown ones.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case "":
		return TierStandard, nil
	case TierStandard, TierStudent, TierPremium:
		return t, nil
	default:
		return "", Validationf("unknown membership tier %q", s)
	}
}

// AuthorizeLoan decides whether m may take one more copy. m.CurrentBorrowed
// must be the live count of open loans.
func AuthorizeLoan(m *Member) error {
	if m.Status != MemberActive {
		return ErrMemberInactive
	}
	if m.CurrentBorrowed >= m.MaxBooksAllowed {
		return ErrLimitReached.WithDetails(map[string]int{
			"current_borrowed":  m.CurrentBorrowed,
			"max_books_allowed": m.MaxBooksAllowed,
		})
	}
	return nil
}
