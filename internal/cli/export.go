package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/roach88/recsync/internal/backend"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Out      string
}

// ExportSummary is printed after a snapshot was written to a file.
type ExportSummary struct {
	Database string `json:"database"`
	Out      string `json:"out"`
	Items    int    `json:"items"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSON snapshot of a server database",
		Long: `Read every stored item with its sub-store children and write them as
indented JSON. The output file is replaced atomically; without --out the
snapshot goes to stdout.

Examples:
  recsync export --db ./mail.db --out snapshot.json
  recsync export --db ./mail.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	db := opts.Database
	if db == "" {
		db = opts.Config.Database
	}
	// backend.Open would create a missing database.
	if _, err := os.Stat(db); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	reg, err := loadRegistry(opts.Config.Definitions...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	srv, err := backend.Open(db, backend.WithRegistry(reg))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer srv.Close()

	snap, err := srv.Snapshot(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read snapshot", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')

	if opts.Out == "" || opts.Out == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := atomic.WriteFile(opts.Out, bytes.NewReader(data)); err != nil {
		return WrapExitError(ExitFailure, "failed to write snapshot", err)
	}
	slog.Info("snapshot exported", "database", db, "out", opts.Out, "items", len(snap.Items))

	summary := ExportSummary{Database: db, Out: opts.Out, Items: len(snap.Items)}
	return opts.formatter(cmd).Success(summary, fmt.Sprintf("exported %d items to %s\n", summary.Items, summary.Out))
}
