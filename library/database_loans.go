package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/shopspring/decimal"
)

type loanRow struct {
	ID         string         `db:"id"`
	BookCopyID string         `db:"book_copy_id"`
	MemberID   string         `db:"member_id"`
	IssueDate  string         `db:"issue_date"`
	DueDate    string         `db:"due_date"`
	ReturnDate sql.NullString `db:"return_date"`
	Status     string         `db:"status"`
	FineAmount string         `db:"fine_amount"`
}

var loanColumns = []any{"id", "book_copy_id", "member_id", "issue_date", "due_date", "return_date", "status", "fine_amount"}

func (row loanRow) toLoan() (*Loan, error) {
	issued, err := parseTime(row.IssueDate)
	if err != nil {
		return nil, err
	}
	due, err := parseTime(row.DueDate)
	if err != nil {
		return nil, err
	}
	returned, err := parseNullTime(row.ReturnDate)
	if err != nil {
		return nil, err
	}
	fine, err := decimal.NewFromString(row.FineAmount)
	if err != nil {
		return nil, fmt.Errorf("parse fine %q: %w", row.FineAmount, err)
	}
	return &Loan{
		ID:         row.ID,
		BookCopyID: row.BookCopyID,
		MemberID:   row.MemberID,
		IssueDate:  issued,
		DueDate:    due,
		ReturnDate: returned,
		Status:     LoanStatus(row.Status),
		FineAmount: fine,
	}, nil
}

func (r *sqlRepository) InsertLoan(ctx context.Context, l *Loan) error {
	_, err := r.exec(ctx, r.dialect.Insert(tblLoans).Prepared(true).Rows(goqu.Record{
		"id":           l.ID,
		"book_copy_id": l.BookCopyID,
		"member_id":    l.MemberID,
		"issue_date":   formatTime(l.IssueDate),
		"due_date":     formatTime(l.DueDate),
		"return_date":  nullTime(l.ReturnDate),
		"status":       string(l.Status),
		"fine_amount":  l.FineAmount.String(),
	}))
	return err
}

func (r *sqlRepository) GetLoan(ctx context.Context, id string) (*Loan, error) {
	var row loanRow
	ds := r.forUpdate(r.from(tblLoans).Select(loanColumns...).Where(goqu.Ex{"id": id}))
	if err := r.get(ctx, &row, ds); err != nil {
		return nil, err
	}
	return row.toLoan()
}

// CloseLoan records the return of an ISSUED loan. It reports false when the
// loan was already closed.
func (r *sqlRepository) CloseLoan(ctx context.Context, id string, returned time.Time, fine decimal.Decimal) (bool, error) {
	n, err := r.exec(ctx, r.dialect.Update(tblLoans).Prepared(true).
		Set(goqu.Record{
			"status":      string(LoanReturned),
			"return_date": formatTime(returned),
			"fine_amount": fine.String(),
		}).
		Where(goqu.Ex{"id": id, "status": string(LoanIssued)}))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *sqlRepository) HasActiveLoan(ctx context.Context, copyID string) (bool, error) {
	return r.exists(ctx, r.from(tblLoans).Where(goqu.Ex{
		"book_copy_id": copyID,
		"status":       string(LoanIssued),
	}))
}

func (r *sqlRepository) ListLoans(ctx context.Context, f LoanFilter, now time.Time) (PagedResult[*Loan], error) {
	page := f.Page.normalize()
	result := PagedResult[*Loan]{Page: page.Number, PageSize: page.Size, Items: []*Loan{}}

	ds := r.from(tblLoans)
	if f.MemberID != "" {
		ds = ds.Where(goqu.C("member_id").Eq(f.MemberID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if f.OverdueOnly {
		ds = ds.Where(
			goqu.C("status").Eq(string(LoanIssued)),
			goqu.C("due_date").Lt(formatTime(now)),
		)
	}
	total, err := r.count(ctx, ds)
	if err != nil {
		return result, err
	}
	result.Total = total

	var rows []loanRow
	list := ds.Select(loanColumns...).Order(goqu.C("issue_date").Desc(), goqu.C("id").Desc())
	if err := r.selectAll(ctx, &rows, paginate(list, page)); err != nil {
		return result, err
	}
	for _, row := range rows {
		l, err := row.toLoan()
		if err != nil {
			return result, err
		}
		result.Items = append(result.Items, l)
	}
	return result, nil
}

// LoanStats counts today's activity using the calendar day of now in its own
// location.
func (r *sqlRepository) LoanStats(ctx context.Context, now time.Time) (LoanStats, error) {
	var stats LoanStats
	y, m, d := now.Date()
	dayStart := formatTime(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	dayEnd := formatTime(time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()))

	issued := goqu.Ex{"status": string(LoanIssued)}
	counts := []struct {
		dst *int
		ds  *goqu.SelectDataset
	}{
		{&stats.ActiveLoans, r.from(tblLoans).Where(issued)},
		{&stats.OverdueLoans, r.from(tblLoans).Where(issued, goqu.C("due_date").Lt(formatTime(now)))},
		{&stats.IssuedToday, r.from(tblLoans).Where(goqu.C("issue_date").Gte(dayStart), goqu.C("issue_date").Lt(dayEnd))},
		{&stats.ReturnedToday, r.from(tblLoans).Where(goqu.C("return_date").Gte(dayStart), goqu.C("return_date").Lt(dayEnd))},
		{&stats.PendingReservations, r.from(tblReservations).Where(goqu.Ex{"status": string(ReservationPending)})},
	}
	for _, c := range counts {
		n, err := r.count(ctx, c.ds)
		if err != nil {
			return stats, err
		}
		*c.dst = n
	}
	return stats, nil
}
