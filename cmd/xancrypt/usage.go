package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xancrypt/xancrypt/adapters/clock"
	"github.com/xancrypt/xancrypt/app"
	"github.com/xancrypt/xancrypt/bootstrap"
	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/ports"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and reset per-identity quotas",
	Long: `Inspect and reset the usage ledger.

An identity is selected by user id, or by device id and IP address.

Examples:
  xancrypt usage show --user=user_123
  xancrypt usage show --device=2f1c... --ip=203.0.113.7
  xancrypt usage list --limit=20
  xancrypt usage reset --user=user_123`,
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the quota of one identity",
	RunE:  runUsageShow,
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently active identities",
	RunE:  runUsageList,
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the usage of one identity",
	RunE:  runUsageReset,
}

var (
	usageUserID   string
	usageDeviceID string
	usageIP       string
	usageLimit    int
	usageOffset   int
)

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageResetCmd)

	for _, c := range []*cobra.Command{usageShowCmd, usageResetCmd} {
		c.Flags().StringVar(&usageUserID, "user", "", "user ID")
		c.Flags().StringVar(&usageDeviceID, "device", "", "device ID")
		c.Flags().StringVar(&usageIP, "ip", "", "client IP address")
	}

	usageListCmd.Flags().IntVar(&usageLimit, "limit", 20, "number of entries to show")
	usageListCmd.Flags().IntVar(&usageOffset, "offset", 0, "number of entries to skip")
}

// openUsage opens the configured storage and returns a usage service over it.
func openUsage(ctx context.Context) (*app.UsageService, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	stores, err := bootstrap.OpenStores(ctx, cfg.Storage, zerolog.Nop())
	if err != nil {
		return nil, nil, err
	}
	limits := cfg.Limits.Admission()
	svc := app.NewUsageService(stores.Ledger, clock.Real{}, func() admission.Config { return limits }, zerolog.Nop())
	return svc, func() { stores.Close() }, nil
}

func usageScope() (identity.Scope, error) {
	scope := identity.Resolve(identity.Identity{
		DeviceID: usageDeviceID,
		IP:       usageIP,
		UserID:   usageUserID,
	})
	if scope.Empty() {
		return scope, errors.New("one of --user, --device or --ip is required")
	}
	return scope, nil
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	scope, err := usageScope()
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, done, err := openUsage(ctx)
	if err != nil {
		return err
	}
	defer done()

	rep, err := svc.Lookup(ctx, scope)
	if errors.Is(err, ports.ErrEntryNotFound) {
		fmt.Printf("No usage recorded for %s.\n", scope)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}

	fmt.Printf("Usage for %s\n\n", scope)
	fmt.Printf("Device:     %s\n", orDash(rep.Entry.DeviceID))
	fmt.Printf("IP:         %s\n", orDash(rep.Entry.IP))
	fmt.Printf("User:       %s\n", orDash(rep.Entry.UserID))
	fmt.Printf("Used:       %d\n", rep.Used)
	fmt.Printf("Remaining:  %d\n", rep.Remaining)
	if rep.NextReset != nil {
		fmt.Printf("Next reset: %s\n", rep.NextReset.Format(time.RFC3339))
	}

	if len(rep.Entry.Records) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECORD\tTIME\tFILES")
		for _, r := range rep.Entry.Records {
			fmt.Fprintf(w, "%s\t%s\t%d\n", r.ID, r.Time.Format(time.RFC3339), r.Files)
		}
		w.Flush()
	}
	return nil
}

func runUsageList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, done, err := openUsage(ctx)
	if err != nil {
		return err
	}
	defer done()

	reports, err := svc.List(ctx, usageLimit, usageOffset)
	if err != nil {
		return fmt.Errorf("failed to list usage: %w", err)
	}
	if len(reports) == 0 {
		fmt.Println("No usage recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tDEVICE\tIP\tUSED\tREMAINING\tUPDATED")
	for _, rep := range reports {
		e := rep.Entry
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			orDash(e.UserID), orDash(e.DeviceID), orDash(e.IP),
			rep.Used, rep.Remaining, e.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	scope, err := usageScope()
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, done, err := openUsage(ctx)
	if err != nil {
		return err
	}
	defer done()

	removed, err := svc.Reset(ctx, scope)
	if errors.Is(err, ports.ErrEntryNotFound) {
		fmt.Printf("No usage recorded for %s.\n", scope)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}

	fmt.Printf("%s Removed %d records for %s\n", checkMark, removed, scope)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
