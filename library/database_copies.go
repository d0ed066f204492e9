package library

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

type copyRow struct {
	ID         string `db:"id"`
	BookID     string `db:"book_id"`
	CopyNumber string `db:"copy_number"`
	Status     string `db:"status"`
	Location   string `db:"location"`
	Version    int64  `db:"version"`
	CreatedAt  string `db:"created_at"`
}

var copyColumns = []any{"id", "book_id", "copy_number", "status", "location", "version", "created_at"}

func (row copyRow) toCopy() (*BookCopy, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &BookCopy{
		ID:         row.ID,
		BookID:     row.BookID,
		CopyNumber: row.CopyNumber,
		Status:     CopyStatus(row.Status),
		Location:   row.Location,
		Version:    row.Version,
		CreatedAt:  created,
	}, nil
}

func (r *sqlRepository) InsertCopy(ctx context.Context, c *BookCopy) error {
	_, err := r.exec(ctx, r.dialect.Insert(tblCopies).Prepared(true).Rows(goqu.Record{
		"id":          c.ID,
		"book_id":     c.BookID,
		"copy_number": c.CopyNumber,
		"status":      string(c.Status),
		"location":    c.Location,
		"version":     c.Version,
		"created_at":  formatTime(c.CreatedAt),
	}))
	return err
}

func (r *sqlRepository) GetCopy(ctx context.Context, id string) (*BookCopy, error) {
	return r.getCopy(ctx, r.from(tblCopies).Where(goqu.Ex{"id": id}))
}

// FindAvailableCopy returns the AVAILABLE copy of the title with the lowest
// copy number.
func (r *sqlRepository) FindAvailableCopy(ctx context.Context, bookID string) (*BookCopy, error) {
	return r.getCopy(ctx, r.from(tblCopies).
		Where(goqu.Ex{"book_id": bookID, "status": string(CopyAvailable)}).
		Order(goqu.C("copy_number").Asc()).
		Limit(1))
}

func (r *sqlRepository) getCopy(ctx context.Context, ds *goqu.SelectDataset) (*BookCopy, error) {
	var row copyRow
	if err := r.get(ctx, &row, r.forUpdate(ds.Select(copyColumns...))); err != nil {
		return nil, err
	}
	return row.toCopy()
}

func (r *sqlRepository) ListCopies(ctx context.Context, bookID string) ([]*BookCopy, error) {
	var rows []copyRow
	ds := r.from(tblCopies).Select(copyColumns...).
		Where(goqu.Ex{"book_id": bookID}).
		Order(goqu.C("copy_number").Asc())
	if err := r.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	copies := make([]*BookCopy, 0, len(rows))
	for _, row := range rows {
		c, err := row.toCopy()
		if err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	return copies, nil
}

func (r *sqlRepository) ListCopyNumbers(ctx context.Context, bookID string) ([]string, error) {
	numbers := []string{}
	ds := r.from(tblCopies).Select("copy_number").Where(goqu.Ex{"book_id": bookID})
	if err := r.selectAll(ctx, &numbers, ds); err != nil {
		return nil, err
	}
	return numbers, nil
}

// SwapCopyStatus moves the copy to status to only if it is still in status
// from, bumping its version.
func (r *sqlRepository) SwapCopyStatus(ctx context.Context, id string, from, to CopyStatus) (bool, error) {
	n, err := r.exec(ctx, r.dialect.Update(tblCopies).Prepared(true).
		Set(goqu.Record{
			"status":  string(to),
			"version": goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": id, "status": string(from)}))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
