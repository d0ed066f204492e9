package library

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

type memberRow struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	Tier            string `db:"tier"`
	Role            string `db:"role"`
	Status          string `db:"status"`
	MaxBooksAllowed int    `db:"max_books_allowed"`
	PasswordHash    string `db:"password_hash"`
	CreatedAt       string `db:"created_at"`
	CurrentBorrowed int    `db:"current_borrowed"`
}

var memberColumns = []any{"id", "name", "tier", "role", "status", "max_books_allowed", "password_hash", "created_at"}

func (row memberRow) toMember() (*Member, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &Member{
		ID:              row.ID,
		Name:            row.Name,
		Tier:            Tier(row.Tier),
		Role:            Role(row.Role),
		Status:          MemberStatus(row.Status),
		MaxBooksAllowed: row.MaxBooksAllowed,
		CurrentBorrowed: row.CurrentBorrowed,
		PasswordHash:    row.PasswordHash,
		CreatedAt:       created,
	}, nil
}

func (r *sqlRepository) InsertMember(ctx context.Context, m *Member) error {
	_, err := r.exec(ctx, r.dialect.Insert(tblMembers).Prepared(true).Rows(goqu.Record{
		"id":                m.ID,
		"name":              m.Name,
		"tier":              string(m.Tier),
		"role":              string(m.Role),
		"status":            string(m.Status),
		"max_books_allowed": m.MaxBooksAllowed,
		"password_hash":     m.PasswordHash,
		"created_at":        formatTime(m.CreatedAt),
	}))
	return err
}

func (r *sqlRepository) ClaimBootstrap(ctx context.Context, adminID string) error {
	_, err := r.exec(ctx, r.dialect.Insert(tblMeta).Prepared(true).Rows(goqu.Record{
		"key":   metaBootstrapAdmin,
		"value": adminID,
	}))
	return err
}

// GetMember locks the member row inside a transaction so concurrent issues
// for the same member see each other's loans.
func (r *sqlRepository) GetMember(ctx context.Context, id string) (*Member, error) {
	var row memberRow
	ds := r.forUpdate(r.from(tblMembers).Select(memberColumns...).Where(goqu.Ex{"id": id}))
	if err := r.get(ctx, &row, ds); err != nil {
		return nil, err
	}
	n, err := r.activeLoanCount(ctx, id)
	if err != nil {
		return nil, err
	}
	row.CurrentBorrowed = n
	return row.toMember()
}

func (r *sqlRepository) activeLoanCount(ctx context.Context, memberID string) (int, error) {
	return r.count(ctx, r.from(tblLoans).Where(goqu.Ex{
		"member_id": memberID,
		"status":    string(LoanIssued),
	}))
}

func (r *sqlRepository) UpdateMemberStatus(ctx context.Context, id string, status MemberStatus) error {
	return r.updateMember(ctx, id, goqu.Record{"status": string(status)})
}

func (r *sqlRepository) UpdateMemberProvisioning(ctx context.Context, id string, tier Tier, maxBooks int) error {
	return r.updateMember(ctx, id, goqu.Record{"tier": string(tier), "max_books_allowed": maxBooks})
}

func (r *sqlRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.updateMember(ctx, id, goqu.Record{"password_hash": hash})
}

func (r *sqlRepository) updateMember(ctx context.Context, id string, set goqu.Record) error {
	n, err := r.exec(ctx, r.dialect.Update(tblMembers).Prepared(true).Set(set).Where(goqu.Ex{"id": id}))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRecord
	}
	return nil
}

func (r *sqlRepository) ListMembers(ctx context.Context, f MemberFilter) (PagedResult[*Member], error) {
	page := f.Page.normalize()
	result := PagedResult[*Member]{Page: page.Number, PageSize: page.Size, Items: []*Member{}}

	ds := r.from(goqu.T(tblMembers).As("m"))
	if f.Status != "" {
		ds = ds.Where(goqu.I("m.status").Eq(string(f.Status)))
	}
	total, err := r.count(ctx, ds)
	if err != nil {
		return result, err
	}
	result.Total = total

	borrowed := r.dialect.From(tblLoans).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.I("loans.member_id").Eq(goqu.I("m.id")),
			goqu.I("loans.status").Eq(string(LoanIssued)),
		)
	var rows []memberRow
	list := ds.Select(
		goqu.I("m.id"), goqu.I("m.name"), goqu.I("m.tier"), goqu.I("m.role"), goqu.I("m.status"),
		goqu.I("m.max_books_allowed"), goqu.I("m.password_hash"), goqu.I("m.created_at"),
		borrowed.As("current_borrowed"),
	).Order(goqu.I("m.created_at").Asc(), goqu.I("m.id").Asc())
	if err := r.selectAll(ctx, &rows, paginate(list, page)); err != nil {
		return result, err
	}
	for _, row := range rows {
		m, err := row.toMember()
		if err != nil {
			return result, err
		}
		result.Items = append(result.Items, m)
	}
	return result, nil
}
