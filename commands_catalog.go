package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

func newAddBookCmd(a *app) *cobra.Command {
	var req library.NewBook
	cmd := &cobra.Command{
		Use:   "add-book",
		Short: "Add a title to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			book, err := a.mgr.AddBook(cmd.Context(), actor, req)
			if err != nil {
				return err
			}
			return a.emit(book, func(w io.Writer) {
				fmt.Fprintf(w, "Book added: %s (ID %s)\n", book.Title, book.ID)
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Title")
	cmd.Flags().StringVar(&req.Author, "author", "", "Author")
	cmd.Flags().StringVar(&req.ISBN, "isbn", "", "ISBN")
	return cmd
}

func newBooksCmd(a *app) *cobra.Command {
	var p library.Page
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the catalog with copy availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.mgr.ListBooks(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.emit(page, func(w io.Writer) {
				if len(page.Items) == 0 {
					fmt.Fprintln(w, "No books found in the library.")
					return
				}
				fmt.Fprintf(w, "\n%-36s  %-40s  %-25s  %s\n", "ID", "Title", "Author", "Available")
				ruler(w, 115)
				for _, b := range page.Items {
					fmt.Fprintf(w, "%-36s  %-40s  %-25s  %d/%d\n",
						b.ID, truncateString(b.Title, 40), truncateString(b.Author, 25),
						b.AvailableCopies, b.TotalCopies)
				}
				footer(w, page.Total, page.Page, page.PageSize)
			})
		},
	}
	pageFlags(cmd, &p)
	return cmd
}

func newAddCopyCmd(a *app) *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "add-copy <book-id>",
		Short: "Register a new physical copy of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			c, err := a.mgr.AddCopy(cmd.Context(), actor, args[0], location)
			if err != nil {
				return err
			}
			return a.emit(c, func(w io.Writer) {
				fmt.Fprintf(w, "Copy %s added (ID %s, %s).\n", c.CopyNumber, c.ID, c.Status)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "Shelf location")
	return cmd
}

func newCopiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copies <book-id>",
		Short: "List the copies of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			copies, err := a.mgr.ListCopies(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(copies, func(w io.Writer) {
				if len(copies) == 0 {
					fmt.Fprintln(w, "No copies registered.")
					return
				}
				fmt.Fprintf(w, "\n%-36s  %-10s  %-10s  %s\n", "ID", "Number", "Status", "Location")
				ruler(w, 80)
				for _, c := range copies {
					fmt.Fprintf(w, "%-36s  %-10s  %-10s  %s\n",
						c.ID, c.CopyNumber, c.Status, truncateString(c.Location, 20))
				}
			})
		},
	}
}

func newRetireCmd(a *app, use, short string, to library.CopyStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <copy-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			var c *library.BookCopy
			if to == library.CopyLost {
				c, err = a.mgr.MarkLost(cmd.Context(), actor, args[0])
			} else {
				c, err = a.mgr.MarkDamaged(cmd.Context(), actor, args[0])
			}
			if err != nil {
				return err
			}
			return a.emit(c, func(w io.Writer) {
				fmt.Fprintf(w, "Copy %s is now %s.\n", c.CopyNumber, c.Status)
			})
		},
	}
}
