package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/blagoySimandov/arqrender/internal/billing"
	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/db"
	"github.com/blagoySimandov/arqrender/internal/logger"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/quota"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/spf13/cobra"
)

const operator = "arqctl"

// app is the slice of the service that the operator commands work on.
type app struct {
	users      *user.UserRepository
	settings   *settings.Service
	reconciler *quota.Reconciler
	close      func() error
}

func openApp() (*app, error) {
	cfg := config.Load()
	logger.Configure(cfg.LogLevel)

	bdb, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := billing.LoadCatalog(cfg)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	repo := user.NewUserRepository(bdb)
	return &app{
		users:      repo,
		settings:   settings.NewService(settings.NewBunRepository(bdb), cfg.SettingsCacheTTL),
		reconciler: quota.NewReconciler(repo, catalog.Rules()),
		close:      bdb.Close,
	}, nil
}

func newRootCmd(open func() (*app, error)) *cobra.Command {
	root := &cobra.Command{
		Use:           "arqctl",
		Short:         "Operate ArqRender render quotas",
		Long:          `Inspect and adjust render ledgers, run the rollover sweep and switch the sign-in provider.`,
		SilenceUsage: true,
	}

	withApp := func(run func(ctx context.Context, a *app, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd.Context(), a, cmd.OutOrStdout(), args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "show <user-id|email>",
			Short: "Show an account's ledger and recent transactions",
			Args:  cobra.ExactArgs(1),
			RunE:  withApp(runShow),
		},
		newGrantCmd(withApp),
		&cobra.Command{
			Use:   "sweep",
			Short: "Roll over every ledger whose billing period has ended",
			Args:  cobra.NoArgs,
			RunE:  withApp(runSweep),
		},
		newAuthProviderCmd(withApp),
	)
	return root
}

func newGrantCmd(withApp func(func(context.Context, *app, io.Writer, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	var (
		renders int
		reason  string
		refund  bool
	)
	cmd := &cobra.Command{
		Use:   "grant <user-id|email>",
		Short: "Add extra renders to an account",
		Example: `  # Refund a failed render
  arqctl grant ana@example.com --renders 1 --refund --reason "render 8812 failed"`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			u, err := lookup(ctx, a, args[0])
			if err != nil {
				return err
			}
			l, err := a.reconciler.Grant(ctx, u.ID, renders, refund, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Granted %d renders to %s; extra renders now %d\n", renders, u.Email, l.ExtraRenders)
			return nil
		}),
	}
	cmd.Flags().IntVar(&renders, "renders", 1, "number of renders to add")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the ledger")
	cmd.Flags().BoolVar(&refund, "refund", false, "record the grant as a refund instead of a bonus")
	return cmd
}

func newAuthProviderCmd(withApp func(func(context.Context, *app, io.Writer, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth-provider",
		Short: "Show or change the active sign-in provider",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the active provider",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
				fmt.Fprintln(out, a.settings.AuthProvider(ctx))
				return nil
			}),
		},
		&cobra.Command{
			Use:       "set <workos|local>",
			Short:     "Switch the active provider",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{string(settings.ProviderWorkOS), string(settings.ProviderLocal)},
			RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
				if err := a.settings.SetAuthProvider(ctx, settings.AuthProvider(args[0]), operator); err != nil {
					return err
				}
				fmt.Fprintf(out, "Auth provider set to %s. Running servers pick it up within the settings cache TTL.\n", args[0])
				return nil
			}),
		},
	)
	return cmd
}

func runShow(ctx context.Context, a *app, out io.Writer, args []string) error {
	u, err := lookup(ctx, a, args[0])
	if err != nil {
		return err
	}
	l := u.Ledger

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s (%s)\n", u.Email, u.ID)
	fmt.Fprintf(w, "Plan:\t%s (%s)\n", l.Plan, l.SubscriptionStatus)
	fmt.Fprintf(w, "Monthly:\t%d/%d used\n", l.MonthlyUsed, l.MonthlyQuota)
	fmt.Fprintf(w, "Extra:\t%d\n", l.ExtraRenders)
	if l.HasPeriod() {
		fmt.Fprintf(w, "Period:\t%s to %s\n", l.BillingPeriodStart.Format(time.RFC3339), l.BillingPeriodEnd.Format(time.RFC3339))
	}
	if l.StripeCustomerID != "" {
		fmt.Fprintf(w, "Customer:\t%s\n", l.StripeCustomerID)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	txs, err := a.users.ListTransactions(ctx, u.ID, 10)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nRecent transactions:")
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range txs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%+d\t%s\n", t.CreatedAt.Format(time.RFC3339), t.Type, t.Bucket, t.Amount, t.Reference)
	}
	return w.Flush()
}

func runSweep(ctx context.Context, a *app, out io.Writer, args []string) error {
	rolled, err := a.reconciler.Sweep(ctx, time.Now().UTC())
	fmt.Fprintf(out, "Rolled over %d ledgers\n", rolled)
	return err
}

func lookup(ctx context.Context, a *app, ref string) (*models.User, error) {
	if strings.Contains(ref, "@") {
		return a.users.GetByEmail(ctx, ref)
	}
	return a.users.GetByID(ctx, ref)
}
