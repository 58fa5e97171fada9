package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/config"
	"github.com/floodgate/floodgate/internal/core/engine"
	"github.com/floodgate/floodgate/internal/core/store"
	"github.com/floodgate/floodgate/internal/observability"
	"github.com/floodgate/floodgate/internal/output"
)

var floodCmd = &cobra.Command{
	Use:   "flood",
	Short: "Inspect and administer flood control events",
}

var (
	floodListEvent      string
	floodListIdentifier string
	floodListPrefix     string
	floodListLimit      int
	floodListOut        string
)

var floodListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded flood events (database backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		if err := requireDatabaseBackend(svc.cfg, "flood list"); err != nil {
			return err
		}

		query := store.FloodQuery{
			Event:      strings.TrimSpace(floodListEvent),
			Identifier: strings.TrimSpace(floodListIdentifier),
			Prefix:     strings.TrimSpace(floodListPrefix),
			Limit:      floodListLimit,
		}
		query.All = query.Event == ""
		if err := query.Validate(); err != nil {
			return err
		}

		events, err := svc.db.ListFloodEvents(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openSink(cmd, floodListOut)
		if err != nil {
			return err
		}
		defer sink.Close() // nolint:errcheck // stdout or a fresh file

		if len(events) == 0 && format == output.FormatTable {
			_, err = fmt.Fprint(sink, ascii.DrawBox("Flood Events\n\n(no stored flood events)", 0))
			return err
		}

		rendered, err := output.NewFormatter(format).FormatFloodEvents(events)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink, rendered)
		return err
	},
}

var (
	floodClearAll        bool
	floodClearEvent      string
	floodClearIdentifier string
	floodClearPrefix     string
	floodClearYes        bool
	floodClearDryRun     bool
)

var floodClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear flood events for an identifier, an identifier prefix or everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := store.FloodQuery{
			All:        floodClearAll,
			Event:      strings.TrimSpace(floodClearEvent),
			Identifier: strings.TrimSpace(floodClearIdentifier),
			Prefix:     strings.TrimSpace(floodClearPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.Identifier != "" && query.Prefix != "" {
			return errors.New("--identifier and --prefix are mutually exclusive")
		}
		if query.All && !floodClearYes && !floodClearDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		// Identifier and prefix clears go through the backend so they work for
		// redis too; counts and bulk clears need the SQL table.
		if !isDatabaseBackend(svc.cfg) {
			if query.All || (query.Identifier == "" && query.Prefix == "") || floodClearDryRun {
				return fmt.Errorf("only --event with --identifier or --prefix is supported for the %s backend", svc.cfg.Flood.Backend)
			}
			if err := clearThroughLimiter(cmd, svc.limiter, query); err != nil {
				return err
			}
			return writeFloodClearResult(format, cmd.OutOrStdout(), -1, -1, false)
		}

		matched, err := svc.db.CountFloodRows(cmd.Context(), query)
		if err != nil {
			return err
		}
		if floodClearDryRun {
			return writeFloodClearResult(format, cmd.OutOrStdout(), matched, 0, true)
		}

		deleted, err := svc.db.ResetFloodEvents(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeFloodClearResult(format, cmd.OutOrStdout(), matched, deleted, false)
	},
}

func clearThroughLimiter(cmd *cobra.Command, limiter *engine.Limiter, query store.FloodQuery) error {
	if query.Prefix != "" {
		return limiter.ResetPrefix(cmd.Context(), query.Event, query.Prefix)
	}
	return limiter.Reset(cmd.Context(), query.Event, query.Identifier)
}

// writeFloodClearResult reports counts; negative counts mean the backend
// cannot tell how many events were removed.
func writeFloodClearResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		result := map[string]any{"dry_run": dryRun}
		if matched >= 0 {
			result["matched"] = matched
			result["deleted"] = deleted
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Flood Clear", ""}
	switch {
	case matched < 0:
		lines = append(lines, "Cleared flood events")
	case dryRun:
		lines = append(lines, fmt.Sprintf("Would delete %d flood event(s)", matched))
	default:
		lines = append(lines, fmt.Sprintf("Deleted %d/%d flood event(s)", deleted, matched))
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

var floodGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired flood events once",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		gc, err := engine.NewGarbageCollector(svc.flood, svc.cfg.Flood.GCSchedule)
		if err != nil {
			return err
		}
		removed, err := gc.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		observability.CLILogger.Debug("Flood garbage collection finished", zap.Int64("removed", removed))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired flood event(s)\n", removed)
		return err
	},
}

var floodCheckIdentifier string

var floodCheckCmd = &cobra.Command{
	Use:   "check <event>",
	Short: "Check whether an identifier is still under an event's threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		decision, err := svc.limiter.Check(cmd.Context(), args[0], strings.TrimSpace(floodCheckIdentifier))
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatDecision(decision)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var (
	floodRegisterIdentifier string
	floodRegisterCount      int
)

var floodRegisterCmd = &cobra.Command{
	Use:   "register <event>",
	Short: "Record flood events for an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := strings.TrimSpace(floodRegisterIdentifier)
		if identifier == "" {
			return errors.New("--identifier is required")
		}
		if floodRegisterCount < 1 {
			return errors.New("--count must be at least 1")
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		for i := 0; i < floodRegisterCount; i++ {
			if err := svc.limiter.Record(cmd.Context(), args[0], identifier); err != nil {
				return err
			}
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d %s event(s) for %s\n", floodRegisterCount, args[0], identifier)
		return err
	},
}

func isDatabaseBackend(cfg *config.Config) bool {
	backend := strings.ToLower(strings.TrimSpace(cfg.Flood.Backend))
	return backend == "" || backend == config.BackendDatabase
}

func requireDatabaseBackend(cfg *config.Config, command string) error {
	if isDatabaseBackend(cfg) {
		return nil
	}
	return fmt.Errorf("%s requires the %s flood backend (configured: %s)", command, config.BackendDatabase, cfg.Flood.Backend)
}

func init() {
	addOutputFlags(floodListCmd)
	floodListCmd.Flags().StringVar(&floodListEvent, "event", "", "Only list events with this name")
	floodListCmd.Flags().StringVar(&floodListIdentifier, "identifier", "", "Only list this identifier (requires --event)")
	floodListCmd.Flags().StringVar(&floodListPrefix, "prefix", "", "Only list identifiers with this prefix (requires --event)")
	floodListCmd.Flags().IntVar(&floodListLimit, "limit", 100, "Maximum rows to list (0 for all)")
	floodListCmd.Flags().StringVar(&floodListOut, "out", "", "Write output to a file (default stdout)")

	addOutputFlags(floodClearCmd)
	floodClearCmd.Flags().BoolVar(&floodClearAll, "all", false, "Clear every flood event")
	floodClearCmd.Flags().StringVar(&floodClearEvent, "event", "", "Event name to clear")
	floodClearCmd.Flags().StringVar(&floodClearIdentifier, "identifier", "", "Clear a single identifier (exact match)")
	floodClearCmd.Flags().StringVar(&floodClearPrefix, "prefix", "", "Clear identifiers starting with this prefix")
	floodClearCmd.Flags().BoolVar(&floodClearYes, "yes", false, "Confirm clearing every event")
	floodClearCmd.Flags().BoolVar(&floodClearDryRun, "dry-run", false, "Show what would be deleted")

	addOutputFlags(floodCheckCmd)
	floodCheckCmd.Flags().StringVar(&floodCheckIdentifier, "identifier", "", "Identifier to check")
	_ = floodCheckCmd.MarkFlagRequired("identifier")

	floodRegisterCmd.Flags().StringVar(&floodRegisterIdentifier, "identifier", "", "Identifier to record")
	floodRegisterCmd.Flags().IntVar(&floodRegisterCount, "count", 1, "Number of events to record")

	floodCmd.AddCommand(floodListCmd, floodClearCmd, floodGCCmd, floodCheckCmd, floodRegisterCmd)
	rootCmd.AddCommand(floodCmd)
}
