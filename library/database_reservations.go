package library

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
)

type reservationRow struct {
	ID              string         `db:"id"`
	BookID          string         `db:"book_id"`
	MemberID        string         `db:"member_id"`
	ReservationDate string         `db:"reservation_date"`
	ExpiryDate      string         `db:"expiry_date"`
	Status          string         `db:"status"`
	HeldCopyID      sql.NullString `db:"held_copy_id"`
}

var reservationColumns = []any{"id", "book_id", "member_id", "reservation_date", "expiry_date", "status", "held_copy_id"}

func (row reservationRow) toReservation() (*Reservation, error) {
	reserved, err := parseTime(row.ReservationDate)
	if err != nil {
		return nil, err
	}
	expiry, err := parseTime(row.ExpiryDate)
	if err != nil {
		return nil, err
	}
	return &Reservation{
		ID:              row.ID,
		BookID:          row.BookID,
		MemberID:        row.MemberID,
		ReservationDate: reserved,
		ExpiryDate:      expiry,
		Status:          ReservationStatus(row.Status),
		HeldCopyID:      stringPtr(row.HeldCopyID),
	}, nil
}

func queueOrder(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.Order(goqu.C("reservation_date").Asc(), goqu.C("id").Asc())
}

func (r *sqlRepository) InsertReservation(ctx context.Context, res *Reservation) error {
	_, err := r.exec(ctx, r.dialect.Insert(tblReservations).Prepared(true).Rows(goqu.Record{
		"id":               res.ID,
		"book_id":          res.BookID,
		"member_id":        res.MemberID,
		"reservation_date": formatTime(res.ReservationDate),
		"expiry_date":      formatTime(res.ExpiryDate),
		"status":           string(res.Status),
		"held_copy_id":     nullString(res.HeldCopyID),
	}))
	return err
}

func (r *sqlRepository) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	return r.getReservation(ctx, r.from(tblReservations).Where(goqu.Ex{"id": id}))
}

func (r *sqlRepository) getReservation(ctx context.Context, ds *goqu.SelectDataset) (*Reservation, error) {
	var row reservationRow
	if err := r.get(ctx, &row, r.forUpdate(ds.Select(reservationColumns...))); err != nil {
		return nil, err
	}
	return row.toReservation()
}

func (r *sqlRepository) HasPendingReservation(ctx context.Context, bookID, memberID string) (bool, error) {
	return r.exists(ctx, r.from(tblReservations).Where(goqu.Ex{
		"book_id":   bookID,
		"member_id": memberID,
		"status":    string(ReservationPending),
	}))
}

func (r *sqlRepository) NextPendingReservation(ctx context.Context, bookID string, now time.Time) (*Reservation, error) {
	ds := r.from(tblReservations).Where(
		goqu.Ex{"book_id": bookID, "status": string(ReservationPending)},
		goqu.C("expiry_date").Gte(formatTime(now)),
	)
	return r.getReservation(ctx, queueOrder(ds).Limit(1))
}

// ReservationHolding returns the fulfilled reservation a RESERVED copy is
// held for.
func (r *sqlRepository) ReservationHolding(ctx context.Context, copyID string) (*Reservation, error) {
	return r.getReservation(ctx, r.from(tblReservations).Where(goqu.Ex{
		"held_copy_id": copyID,
		"status":       string(ReservationFulfilled),
	}).Limit(1))
}

func (r *sqlRepository) UpdateReservation(ctx context.Context, res *Reservation, from ReservationStatus) (bool, error) {
	n, err := r.exec(ctx, r.dialect.Update(tblReservations).Prepared(true).
		Set(goqu.Record{
			"status":       string(res.Status),
			"expiry_date":  formatTime(res.ExpiryDate),
			"held_copy_id": nullString(res.HeldCopyID),
		}).
		Where(goqu.Ex{"id": res.ID, "status": string(from)}))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListStaleReservations returns pending reservations past their expiry date
// and fulfilled ones whose held copy was not collected in time, oldest
// expiry first.
func (r *sqlRepository) ListStaleReservations(ctx context.Context, now time.Time) ([]*Reservation, error) {
	var rows []reservationRow
	ds := r.from(tblReservations).Select(reservationColumns...).
		Where(
			goqu.C("expiry_date").Lt(formatTime(now)),
			goqu.Or(
				goqu.C("status").Eq(string(ReservationPending)),
				goqu.And(
					goqu.C("status").Eq(string(ReservationFulfilled)),
					goqu.C("held_copy_id").IsNotNull(),
				),
			),
		).
		Order(goqu.C("expiry_date").Asc(), goqu.C("id").Asc())
	if err := r.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}
	return toReservations(rows)
}

func (r *sqlRepository) ListReservations(ctx context.Context, f ReservationFilter) (PagedResult[*Reservation], error) {
	page := f.Page.normalize()
	result := PagedResult[*Reservation]{Page: page.Number, PageSize: page.Size, Items: []*Reservation{}}

	ds := r.from(tblReservations)
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.MemberID != "" {
		ds = ds.Where(goqu.C("member_id").Eq(f.MemberID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	total, err := r.count(ctx, ds)
	if err != nil {
		return result, err
	}
	result.Total = total

	var rows []reservationRow
	if err := r.selectAll(ctx, &rows, paginate(queueOrder(ds.Select(reservationColumns...)), page)); err != nil {
		return result, err
	}
	items, err := toReservations(rows)
	if err != nil {
		return result, err
	}
	result.Items = items
	return result, nil
}

func toReservations(rows []reservationRow) ([]*Reservation, error) {
	out := make([]*Reservation, 0, len(rows))
	for _, row := range rows {
		res, err := row.toReservation()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
