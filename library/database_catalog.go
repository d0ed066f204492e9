package library

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

type bookRow struct {
	ID              string `db:"id"`
	Title           string `db:"title"`
	Author          string `db:"author"`
	ISBN            string `db:"isbn"`
	CreatedAt       string `db:"created_at"`
	TotalCopies     int    `db:"total_copies"`
	AvailableCopies int    `db:"available_copies"`
}

func (row bookRow) toBook() (*Book, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &Book{
		ID:              row.ID,
		Title:           row.Title,
		Author:          row.Author,
		ISBN:            row.ISBN,
		TotalCopies:     row.TotalCopies,
		AvailableCopies: row.AvailableCopies,
		CreatedAt:       created,
	}, nil
}

func (r *sqlRepository) InsertBook(ctx context.Context, b *Book) error {
	_, err := r.exec(ctx, r.dialect.Insert(tblBooks).Prepared(true).Rows(goqu.Record{
		"id":         b.ID,
		"title":      b.Title,
		"author":     b.Author,
		"isbn":       b.ISBN,
		"created_at": formatTime(b.CreatedAt),
	}))
	return err
}

// GetBook locks the book row inside a transaction, so registering copies
// against the same title serializes on it.
func (r *sqlRepository) GetBook(ctx context.Context, id string) (*Book, error) {
	var row bookRow
	ds := r.forUpdate(r.from(tblBooks).
		Select("id", "title", "author", "isbn", "created_at").
		Where(goqu.Ex{"id": id}))
	if err := r.get(ctx, &row, ds); err != nil {
		return nil, err
	}

	var counts struct {
		Total     int `db:"total_copies"`
		Available int `db:"available_copies"`
	}
	countDS := r.from(tblCopies).
		Select(
			goqu.COUNT(goqu.Star()).As("total_copies"),
			availableSum("status").As("available_copies"),
		).
		Where(goqu.Ex{"book_id": id})
	if err := r.get(ctx, &counts, countDS); err != nil {
		return nil, fmt.Errorf("count copies: %w", err)
	}
	row.TotalCopies = counts.Total
	row.AvailableCopies = counts.Available
	return row.toBook()
}

func (r *sqlRepository) ListBooks(ctx context.Context, page Page) (PagedResult[*Book], error) {
	page = page.normalize()
	result := PagedResult[*Book]{Page: page.Number, PageSize: page.Size, Items: []*Book{}}

	total, err := r.count(ctx, r.from(tblBooks))
	if err != nil {
		return result, err
	}
	result.Total = total

	var rows []bookRow
	ds := r.from(goqu.T(tblBooks).As("b")).
		LeftJoin(goqu.T(tblCopies).As("c"), goqu.On(goqu.I("c.book_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.isbn"), goqu.I("b.created_at"),
			goqu.COUNT(goqu.I("c.id")).As("total_copies"),
			availableSum("c.status").As("available_copies"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.isbn"), goqu.I("b.created_at")).
		Order(goqu.I("b.created_at").Asc(), goqu.I("b.id").Asc())
	if err := r.selectAll(ctx, &rows, paginate(ds, page)); err != nil {
		return result, err
	}
	for _, row := range rows {
		b, err := row.toBook()
		if err != nil {
			return result, err
		}
		result.Items = append(result.Items, b)
	}
	return result, nil
}

func availableSum(statusCol string) exp.SQLFunctionExpression {
	return goqu.COALESCE(
		goqu.SUM(goqu.Case().When(goqu.I(statusCol).Eq(string(CopyAvailable)), goqu.L("1")).Else(goqu.L("0"))),
		goqu.L("0"),
	)
}
