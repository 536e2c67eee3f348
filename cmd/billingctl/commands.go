package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/app"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

type opener func(ctx context.Context) (*app.App, error)

// sweepJobs maps the CLI sweep names to runner job names.
var sweepJobs = map[string]string{
	"expiry":    models.JobExpirySweep,
	"reminders": models.JobRenewalReminders,
	"retries":   models.JobPaymentRetry,
}

func newRootCmd(open opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the subscription lifecycle by hand",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(sweepCmd(open))
	rootCmd.AddCommand(retryCmd(open))
	rootCmd.AddCommand(subscriptionsCmd(open))
	return rootCmd
}

func sweepCmd(open opener) *cobra.Command {
	var nowFlag string
	cmd := &cobra.Command{
		Use:       "sweep expiry|reminders|retries",
		Short:     "Run one lifecycle sweep immediately",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"expiry", "reminders", "retries"},
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseNow(nowFlag)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				summary, err := a.Runner.Run(ctx, sweepJobs[args[0]], now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "Run as of this RFC 3339 instant (default: current time)")
	return cmd
}

func retryCmd(open opener) *cobra.Command {
	var nowFlag string
	cmd := &cobra.Command{
		Use:   "retry <subscription-id>",
		Short: "Make one payment retry attempt for a past-due subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseNow(nowFlag)
			if err != nil {
				return err
			}
			if now.IsZero() {
				now = time.Now().UTC()
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				result, err := a.Retries.Retry(ctx, args[0], now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "Retry as of this RFC 3339 instant (default: current time)")
	return cmd
}

func subscriptionsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect subscriptions",
	}

	var filter struct {
		status, plan, user string
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				subs, err := a.Subscriptions.List(ctx, models.SubscriptionFilter{
					Status: models.SubscriptionStatus(filter.status),
					Plan:   models.Plan(filter.plan),
					UserID: filter.user,
				})
				if err != nil {
					return err
				}
				return printSubscriptions(cmd.OutOrStdout(), subs)
			})
		},
	}
	list.Flags().StringVar(&filter.status, "status", "", "Filter by status (active, past_due, canceled)")
	list.Flags().StringVar(&filter.plan, "plan", "", "Filter by plan")
	list.Flags().StringVar(&filter.user, "user", "", "Filter by owner id")

	cmd.AddCommand(list)
	return cmd
}

func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseNow(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	now, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now must be an RFC 3339 timestamp: %w", err)
	}
	return now.UTC(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSubscriptions(w io.Writer, subs []models.Subscription) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tPLAN\tSTATUS\tPROVIDER\tEXPIRES\tRETRIES")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.UserID, s.Plan, s.Status, s.PaymentProvider, s.ExpiresAt.Format(time.RFC3339), s.RetryAttempts)
	}
	return tw.Flush()
}
