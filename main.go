package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/internal/config"
	"library-circulation/internal/di"
	"library-circulation/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app carries what every command needs once the container is up.
type app struct {
	injector *do.RootScope
	mgr      *library.LibraryManager
	out      io.Writer
	asJSON   bool
	memberID string
	metrics  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if serr := a.shutdown(); err == nil {
		err = serr
	}
	if err != nil {
		d := library.Describe(err)
		if errors.As(err, new(*library.Error)) {
			fmt.Fprintf(os.Stderr, "Error: %s (%s)\n", d.Message, d.Code)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Callers own a.shutdown, which also
// runs when a command fails before PersistentPostRunE.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:           "librarian",
		Short:         "Library circulation: loans, returns, reservations and fines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			cfg, err := config.LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			a.injector = di.NewContainer(cfg)
			a.mgr, err = do.Invoke[*library.LibraryManager](a.injector)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.metrics && a.mgr != nil {
				if err := a.mgr.Metrics().WriteText(os.Stderr); err != nil {
					return err
				}
			}
			return a.shutdown()
		},
	}

	flags := root.PersistentFlags()
	config.RegisterFlags(flags)
	flags.BoolVar(&a.asJSON, "json", false, "Print results as JSON")
	flags.BoolVar(&a.metrics, "metrics", false, "Dump circulation metrics to stderr after the command")
	flags.StringVar(&a.memberID, "as", os.Getenv("LIBRARY_MEMBER"), "Member ID to act as (env LIBRARY_MEMBER)")

	root.AddCommand(
		newInitCmd(a),
		newIssueCmd(a),
		newReturnCmd(a),
		newReserveCmd(a),
		newCancelReservationCmd(a),
		newExpireCmd(a),
		newLoansCmd(a),
		newReservationsCmd(a),
		newStatsCmd(a),
		newAddBookCmd(a),
		newBooksCmd(a),
		newAddCopyCmd(a),
		newCopiesCmd(a),
		newRetireCmd(a, "mark-damaged", "Take a copy out of circulation as damaged", library.CopyDamaged),
		newRetireCmd(a, "mark-lost", "Take a copy out of circulation as lost", library.CopyLost),
		newAddMemberCmd(a),
		newMembersCmd(a),
		newReprovisionCmd(a),
		newStatusCmd(a, "suspend", "Suspend a member", library.MemberSuspended),
		newStatusCmd(a, "activate", "Reactivate a member", library.MemberActive),
		newResetPasswordCmd(a),
	)
	return root, a
}

func (a *app) shutdown() error {
	if a.injector == nil {
		return nil
	}
	injector := a.injector
	a.injector = nil
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		return fmt.Errorf("shutdown: %w", report)
	}
	return nil
}

// actor authenticates the member named by --as. The password comes from
// LIBRARY_PASSWORD or a masked prompt.
func (a *app) actor(ctx context.Context) (library.Actor, error) {
	if a.memberID == "" {
		return library.Actor{}, library.Validationf("--as <member-id> is required for this command")
	}
	password := os.Getenv("LIBRARY_PASSWORD")
	if password == "" {
		var err error
		if password, err = readPassword("Enter your password: "); err != nil {
			return library.Actor{}, fmt.Errorf("failed to read password: %w", err)
		}
	}
	return a.mgr.AuthenticateMember(ctx, a.memberID, password)
}

// readPassword securely reads a password with masking.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(bytePassword)), nil
}

// emit prints v as JSON with --json, otherwise calls table.
func (a *app) emit(v any, table func(w io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	table(a.out)
	return nil
}

// truncateString shortens s to at most maxLength runes, ending in "..."
// when there is room for it.
func truncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:max(maxLength, 0)])
	}
	return string(runes[:maxLength-3]) + "..."
}

func ruler(w io.Writer, n int) {
	fmt.Fprintln(w, strings.Repeat("-", n))
}
