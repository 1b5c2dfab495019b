package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/lmbridge/internal/bootstrap"
)

var cacheInitJSON bool

var cacheInitCmd = &cobra.Command{
	Use:   "cache-init",
	Short: "Provision the cache database, role and tables",
	Long: `Provision the cache store before the server starts. Safe to re-run.

Exit status: 0 on success or a fail-open provisioning failure, 1 when a
configured SQL file is missing, 2 when the database is unreachable or
another step fails, 3 when the cache tables could not be provisioned.`,
	Args: cobra.NoArgs,
	RunE: runCacheInit,
}

func init() {
	cacheInitCmd.Flags().BoolVar(&cacheInitJSON, "json", false, "Print the run report as JSON")
}

// runBootstrap is replaced in tests.
var runBootstrap = bootstrap.Run

func runCacheInit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return &exitError{code: bootstrap.ExitFatal, err: err}
	}

	report, runErr := runBootstrap(ctx, cfg)
	if err := printReport(cmd.OutOrStdout(), report, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return &exitError{code: bootstrap.ExitCode(runErr), err: runErr}
	}
	return nil
}

func printReport(w io.Writer, report bootstrap.Report, runErr error) error {
	if cacheInitJSON {
		doc := map[string]any{
			"run_id":         report.RunID,
			"state":          report.State.String(),
			"started":        report.Started,
			"finished":       report.Finished,
			"warnings":       nonNil(report.Warnings),
			"migrated_roles": nonNil(report.MigratedRoles),
			"degraded":       report.Degraded,
			"exit_code":      bootstrap.ExitCode(runErr),
		}
		if runErr != nil {
			doc["error"] = runErr.Error()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	fmt.Fprintf(w, "Run:       %s\n", report.RunID)
	fmt.Fprintf(w, "State:     %s\n", report.State)
	fmt.Fprintf(w, "Duration:  %s\n", report.Finished.Sub(report.Started).Round(time.Millisecond))
	if len(report.MigratedRoles) > 0 {
		fmt.Fprintf(w, "Migrated:  %s\n", strings.Join(report.MigratedRoles, ", "))
	}
	if len(report.Warnings) > 0 {
		fmt.Fprintf(w, "Warnings:  %d\n", len(report.Warnings))
		for _, warning := range report.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
	if report.Degraded {
		fmt.Fprintf(w, "Degraded:  caching disabled (%v)\n", report.ProvisioningErr)
	}
	if runErr != nil {
		fmt.Fprintf(w, "Error:     %v\n", runErr)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
