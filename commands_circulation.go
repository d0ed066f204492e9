package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

const dateLayout = "2006-01-02"

func newIssueCmd(a *app) *cobra.Command {
	var memberID string
	cmd := &cobra.Command{
		Use:   "issue <copy-id>",
		Short: "Lend a copy to a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			if memberID == "" {
				memberID = actor.MemberID
			}
			loan, err := a.mgr.CheckoutBook(cmd.Context(), actor, args[0], memberID)
			if err != nil {
				return err
			}
			return a.emit(loan, func(w io.Writer) {
				fmt.Fprintf(w, "Loan %s issued. Due %s.\n", loan.ID, loan.DueDate.Format(dateLayout))
			})
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "Borrowing member (defaults to the acting member)")
	return cmd
}

func newReturnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Close a loan and assess any fine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			receipt, err := a.mgr.ReturnBookWithDetails(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			return a.emit(receipt, func(w io.Writer) {
				fmt.Fprintf(w, "Loan %s returned. Fine: %s\n", receipt.Loan.ID, receipt.Loan.FineAmount.StringFixed(2))
				if receipt.HeldFor != nil {
					fmt.Fprintf(w, "Copy is now held for member %s (reservation %s).\n",
						receipt.HeldFor.MemberID, receipt.HeldFor.ID)
				}
			})
		},
	}
}

func newReserveCmd(a *app) *cobra.Command {
	var memberID string
	cmd := &cobra.Command{
		Use:   "reserve <book-id>",
		Short: "Join the queue for a book with no available copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			if memberID == "" {
				memberID = actor.MemberID
			}
			res, err := a.mgr.ReserveBook(cmd.Context(), actor, args[0], memberID)
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Reservation %s placed. Expires %s.\n", res.ID, res.ExpiryDate.Format(dateLayout))
			})
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "Reserving member (defaults to the acting member)")
	return cmd
}

func newCancelReservationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-reservation <reservation-id>",
		Short: "Cancel a pending reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.mgr.CancelReservation(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "Reservation %s cancelled.\n", res.ID)
			})
		},
	}
}

func newExpireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire stale reservations and re-offer released copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.mgr.ExpireReservations(cmd.Context(), actor)
			if err != nil {
				return err
			}
			return a.emit(report, func(w io.Writer) {
				fmt.Fprintf(w, "Expired: %d  Re-offered: %d  Released copies: %d\n",
					report.Expired, report.Reoffered, report.ReleasedCopies)
			})
		},
	}
}

func newLoansCmd(a *app) *cobra.Command {
	var (
		f      library.LoanFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List loans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			f.Status = library.LoanStatus(status)
			page, err := a.mgr.ListLoans(cmd.Context(), actor, f)
			if err != nil {
				return err
			}
			return a.emit(page, func(w io.Writer) {
				if len(page.Items) == 0 {
					fmt.Fprintln(w, "No loans found.")
					return
				}
				now := time.Now()
				fmt.Fprintf(w, "\n%-36s  %-36s  %-10s  %-10s  %-8s  %s\n", "Loan", "Copy", "Issued", "Due", "Status", "Fine")
				ruler(w, 120)
				for _, l := range page.Items {
					status := string(l.Status)
					if l.Overdue(now) {
						status = "OVERDUE"
					}
					fmt.Fprintf(w, "%-36s  %-36s  %-10s  %-10s  %-8s  %s\n",
						l.ID, l.BookCopyID, l.IssueDate.Format(dateLayout), l.DueDate.Format(dateLayout),
						status, l.FineAmount.StringFixed(2))
				}
				footer(w, page.Total, page.Page, page.PageSize)
			})
		},
	}
	cmd.Flags().StringVar(&f.MemberID, "member", "", "Only loans of this member")
	cmd.Flags().StringVar(&status, "status", "", "ISSUED or RETURNED")
	cmd.Flags().BoolVar(&f.OverdueOnly, "overdue", false, "Only open loans past their due date")
	pageFlags(cmd, &f.Page)
	return cmd
}

func newReservationsCmd(a *app) *cobra.Command {
	var (
		f      library.ReservationFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "List reservations in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			f.Status = library.ReservationStatus(status)
			page, err := a.mgr.ListReservations(cmd.Context(), actor, f)
			if err != nil {
				return err
			}
			return a.emit(page, func(w io.Writer) {
				if len(page.Items) == 0 {
					fmt.Fprintln(w, "No reservations found.")
					return
				}
				fmt.Fprintf(w, "\n%-36s  %-36s  %-36s  %-10s  %-10s\n", "Reservation", "Book", "Member", "Expires", "Status")
				ruler(w, 136)
				for _, r := range page.Items {
					fmt.Fprintf(w, "%-36s  %-36s  %-36s  %-10s  %-10s\n",
						r.ID, r.BookID, r.MemberID, r.ExpiryDate.Format(dateLayout), r.Status)
				}
				footer(w, page.Total, page.Page, page.PageSize)
			})
		},
	}
	cmd.Flags().StringVar(&f.BookID, "book", "", "Only reservations for this book")
	cmd.Flags().StringVar(&f.MemberID, "member", "", "Only reservations of this member")
	cmd.Flags().StringVar(&status, "status", "", "PENDING, FULFILLED, CANCELLED or EXPIRED")
	pageFlags(cmd, &f.Page)
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show circulation totals for today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := a.mgr.Stats(cmd.Context(), actor)
			if err != nil {
				return err
			}
			return a.emit(stats, func(w io.Writer) {
				fmt.Fprintf(w, "Active loans:         %d\n", stats.ActiveLoans)
				fmt.Fprintf(w, "Overdue loans:        %d\n", stats.OverdueLoans)
				fmt.Fprintf(w, "Issued today:         %d\n", stats.IssuedToday)
				fmt.Fprintf(w, "Returned today:       %d\n", stats.ReturnedToday)
				fmt.Fprintf(w, "Pending reservations: %d\n", stats.PendingReservations)
			})
		},
	}
}

func pageFlags(cmd *cobra.Command, p *library.Page) {
	cmd.Flags().IntVar(&p.Number, "page", 1, "Page number")
	cmd.Flags().IntVar(&p.Size, "page-size", library.DefaultPageSize, "Items per page")
}

func footer(w io.Writer, total, page, size int) {
	if size <= 0 {
		size = library.DefaultPageSize
	}
	pages := (total + size - 1) / size
	fmt.Fprintf(w, "\nPage %d of %d (%d total)\n", page, pages, total)
}
