package library

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const logMsgBookAdded = "book added"

// Catalog keeps the book records copies are registered against.
type Catalog struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewCatalog creates a catalog over store.
func NewCatalog(store Store, policy Policy, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Catalog{store: store, now: policy.withDefaults().Now, logger: logger}
}

// AddBook creates a book with no copies.
func (c *Catalog) AddBook(ctx context.Context, title, author, isbn string) (*Book, error) {
	b := &Book{
		ID:        newID(),
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		ISBN:      strings.TrimSpace(isbn),
		CreatedAt: c.now(),
	}
	err := c.store.Atomic(ctx, func(ctx context.Context, repo Repository) error {
		return repo.InsertBook(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info(logMsgBookAdded, logAttrBookID, b.ID, "title", b.Title)
	return b, nil
}

// GetBook returns a book with its copy counts.
func (c *Catalog) GetBook(ctx context.Context, id string) (*Book, error) {
	var b *Book
	err := c.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		b, err = repo.GetBook(ctx, id)
		return orNotFound(err, ErrBookNotFound)
	})
	return b, err
}

// Availability reports whether bookID exists and how many of its copies are
// on the shelf.
func (c *Catalog) Availability(ctx context.Context, id string) (exists bool, available int, err error) {
	b, err := c.GetBook(ctx, id)
	if err != nil {
		if ReasonOf(err) == ReasonBookNotFound {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, b.AvailableCopies, nil
}

// ListBooks returns books in the order they were added.
func (c *Catalog) ListBooks(ctx context.Context, page Page) (PagedResult[*Book], error) {
	var out PagedResult[*Book]
	err := c.store.View(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListBooks(ctx, page)
		return err
	})
	return out, err
}
