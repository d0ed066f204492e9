package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

// newPassword reads a password twice from the terminal, or once from
// LIBRARY_NEW_PASSWORD when set.
func newPassword() (string, error) {
	if p := os.Getenv("LIBRARY_NEW_PASSWORD"); p != "" {
		return p, nil
	}
	password, err := readPassword("New password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password != confirm {
		return "", library.Validationf("passwords do not match")
	}
	return password, nil
}

func newInitCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the first administrator of an empty library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := newPassword()
			if err != nil {
				return err
			}
			m, err := a.mgr.Bootstrap(cmd.Context(), name, password)
			if err != nil {
				return err
			}
			return a.emit(m, func(w io.Writer) {
				fmt.Fprintf(w, "Administrator created. Your member ID is %s\n", m.ID)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "Administrator name")
	return cmd
}

func newAddMemberCmd(a *app) *cobra.Command {
	var (
		req        library.NewMember
		tier, role string
	)
	cmd := &cobra.Command{
		Use:   "add-member",
		Short: "Register a member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			if req.Password, err = newPassword(); err != nil {
				return err
			}
			req.Tier = library.Tier(tier)
			req.Role = library.Role(role)
			m, err := a.mgr.AddMember(cmd.Context(), actor, req)
			if err != nil {
				return err
			}
			return a.emit(m, func(w io.Writer) {
				fmt.Fprintf(w, "Member %s added (ID %s, %s, up to %d books).\n",
					m.Name, m.ID, m.Tier, m.MaxBooksAllowed)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Member name")
	cmd.Flags().StringVar(&tier, "tier", "", "STANDARD, STUDENT or PREMIUM")
	cmd.Flags().StringVar(&role, "role", "", "MEMBER, LIBRARIAN or ADMIN")
	return cmd
}

func newMembersCmd(a *app) *cobra.Command {
	var (
		f      library.MemberFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			f.Status = library.MemberStatus(status)
			page, err := a.mgr.ListMembers(cmd.Context(), actor, f)
			if err != nil {
				return err
			}
			return a.emit(page, func(w io.Writer) {
				if len(page.Items) == 0 {
					fmt.Fprintln(w, "No members found.")
					return
				}
				fmt.Fprintf(w, "\n%-36s  %-25s  %-9s  %-9s  %-9s  %s\n", "ID", "Name", "Tier", "Role", "Status", "Loans")
				ruler(w, 105)
				for _, m := range page.Items {
					fmt.Fprintf(w, "%-36s  %-25s  %-9s  %-9s  %-9s  %d/%d\n",
						m.ID, truncateString(m.Name, 25), m.Tier, m.Role, m.Status,
						m.CurrentBorrowed, m.MaxBooksAllowed)
				}
				footer(w, page.Total, page.Page, page.PageSize)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "ACTIVE or SUSPENDED")
	pageFlags(cmd, &f.Page)
	return cmd
}

func newReprovisionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reprovision <member-id> <tier>",
		Short: "Move a member to another tier and reset the borrowing cap",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			m, err := a.mgr.ReprovisionMember(cmd.Context(), actor, args[0], library.Tier(args[1]))
			if err != nil {
				return err
			}
			return a.emit(m, func(w io.Writer) {
				fmt.Fprintf(w, "Member %s is now %s (up to %d books).\n", m.ID, m.Tier, m.MaxBooksAllowed)
			})
		},
	}
}

func newStatusCmd(a *app, use, short string, status library.MemberStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <member-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			m, err := a.mgr.SetMemberStatus(cmd.Context(), actor, args[0], status)
			if err != nil {
				return err
			}
			return a.emit(m, func(w io.Writer) {
				fmt.Fprintf(w, "Member %s is now %s.\n", m.ID, m.Status)
			})
		},
	}
}

func newResetPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password [member-id]",
		Short: "Change a password (your own unless you are staff)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.actor(cmd.Context())
			if err != nil {
				return err
			}
			memberID := actor.MemberID
			if len(args) == 1 {
				memberID = args[0]
			}
			password, err := newPassword()
			if err != nil {
				return err
			}
			if err := a.mgr.ResetMemberPassword(cmd.Context(), actor, memberID, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Password updated successfully.")
			return nil
		},
	}
}
