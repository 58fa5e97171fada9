package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/redirect"
	"github.com/floodgate/floodgate/internal/core/store"
	"github.com/floodgate/floodgate/internal/observability"
	"github.com/floodgate/floodgate/internal/output"
)

var redirectCmd = &cobra.Command{
	Use:   "redirect",
	Short: "Manage redirects and resolve request paths",
}

var (
	redirectAddSource      string
	redirectAddDestination string
	redirectAddLanguage    string
	redirectAddStatus      int
	redirectAddDisabled    bool
)

var redirectAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a redirect",
	Example: `  floodgate redirect add --source old-blog --destination internal:/blog
  floodgate redirect add --source "search?q=go" --destination https://go.dev --status 302`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		item := &core.Redirect{
			SourcePath:  redirectAddSource,
			Language:    redirectAddLanguage,
			Destination: redirectAddDestination,
			StatusCode:  redirectAddStatus,
			Enabled:     !redirectAddDisabled,
		}
		if err := svc.redirects.Save(cmd.Context(), item); err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created redirect %d: /%s -> %s (%d)\n",
			item.ID, item.SourcePath, item.Destination, item.StatusCode)
		return err
	},
}

var (
	redirectListPrefix string
	redirectListLimit  int
	redirectListOut    string
)

var redirectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List redirects",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if redirectListLimit < 0 {
			return errors.New("--limit must not be negative")
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		items, err := svc.redirects.List(cmd.Context(), store.RedirectQuery{
			Prefix: redirectListPrefix,
			Limit:  redirectListLimit,
		})
		if err != nil {
			return err
		}

		sink, err := openSink(cmd, redirectListOut)
		if err != nil {
			return err
		}
		defer sink.Close() // nolint:errcheck // stdout or a fresh file

		rendered, err := output.NewFormatter(format).FormatRedirects(items)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink, rendered)
		return err
	},
}

var redirectResolveLanguage string

var redirectResolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Show where a request path redirects to",
	Long: `Resolve a request path (optionally with a query string) through the
stored redirects, following chains of internal destinations.

A chain that revisits a redirect is reported as a loop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		path, query, err := redirect.SplitRequestPath(args[0])
		if err != nil {
			return err
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		resolution, err := svc.redirects.Resolve(cmd.Context(), path, query, redirectResolveLanguage)
		if err != nil {
			var loop *redirect.LoopError
			if errors.As(err, &loop) {
				observability.CLILogger.Warn("Redirect loop detected",
					zap.String("path", loop.Path),
					zap.Int64("rid", loop.ID))
			}
			return err
		}

		rendered, err := output.NewFormatter(format).FormatResolution(resolution)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var redirectDeleteCmd = &cobra.Command{
	Use:   "delete <rid>",
	Short: "Delete a redirect by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || rid <= 0 {
			return fmt.Errorf("invalid redirect id %q", args[0])
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		if err := svc.redirects.Delete(cmd.Context(), rid); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted redirect %d\n", rid)
		return err
	},
}

var redirectImportSkipDuplicates bool

var redirectImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import redirects from a YAML file",
	Long: `Import redirects from a YAML file in the format written by "redirect export".

Entries default to enabled. Use --skip-duplicates to ignore entries whose
source, query and language already exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openInput(cmd, args[0])
		if err != nil {
			return err
		}
		defer f.Close() // nolint:errcheck // read-only

		items, err := decodeRedirectFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		var created, skipped int
		for i := range items {
			item := items[i]
			// IDs from another installation are not meaningful here.
			item.ID = 0
			err := svc.redirects.Save(cmd.Context(), &item)
			switch {
			case err == nil:
				created++
			case errors.Is(err, redirect.ErrDuplicate) && redirectImportSkipDuplicates:
				skipped++
			default:
				return fmt.Errorf("entry %d (/%s): %w", i+1, strings.TrimLeft(item.SourcePath, "/"), err)
			}
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d redirect(s), skipped %d\n", created, skipped)
		return err
	},
}

var redirectExportOut string

var redirectExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export redirects as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup

		items, err := svc.redirects.List(cmd.Context(), store.RedirectQuery{})
		if err != nil {
			return err
		}

		sink, err := openSink(cmd, redirectExportOut)
		if err != nil {
			return err
		}
		defer sink.Close() // nolint:errcheck // stdout or a fresh file

		return encodeRedirectFile(sink, items)
	},
}

// redirectFile is the YAML document read by import and written by export.
type redirectFile struct {
	Redirects []redirectEntry `yaml:"redirects"`
}

type redirectEntry struct {
	Source      string         `yaml:"source"`
	Query       map[string]any `yaml:"query,omitempty"`
	Language    string         `yaml:"language,omitempty"`
	Destination string         `yaml:"destination"`
	StatusCode  int            `yaml:"status_code,omitempty"`
	Enabled     *bool          `yaml:"enabled,omitempty"`
}

func decodeRedirectFile(r io.Reader) ([]core.Redirect, error) {
	var doc redirectFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	items := make([]core.Redirect, 0, len(doc.Redirects))
	for _, entry := range doc.Redirects {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		items = append(items, core.Redirect{
			SourcePath:  entry.Source,
			SourceQuery: entry.Query,
			Language:    entry.Language,
			Destination: entry.Destination,
			StatusCode:  entry.StatusCode,
			Enabled:     enabled,
		})
	}
	return items, nil
}

func encodeRedirectFile(w io.Writer, items []core.Redirect) error {
	doc := redirectFile{Redirects: make([]redirectEntry, 0, len(items))}
	for _, item := range items {
		enabled := item.Enabled
		doc.Redirects = append(doc.Redirects, redirectEntry{
			Source:      item.SourcePath,
			Query:       item.SourceQuery,
			Language:    item.Language,
			Destination: item.Destination,
			StatusCode:  item.StatusCode,
			Enabled:     &enabled,
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	return encoder.Close()
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}

func init() {
	redirectAddCmd.Flags().StringVar(&redirectAddSource, "source", "", "Source path, optionally with a query string")
	redirectAddCmd.Flags().StringVar(&redirectAddDestination, "destination", "", "Destination (internal:/path, entity:type/id or an absolute URL)")
	redirectAddCmd.Flags().StringVar(&redirectAddLanguage, "language", core.LanguageNotSpecified, "Language code the redirect applies to")
	redirectAddCmd.Flags().IntVar(&redirectAddStatus, "status", 0, "Redirect status code (default from config)")
	redirectAddCmd.Flags().BoolVar(&redirectAddDisabled, "disabled", false, "Store the redirect disabled")
	_ = redirectAddCmd.MarkFlagRequired("source")
	_ = redirectAddCmd.MarkFlagRequired("destination")

	addOutputFlags(redirectListCmd)
	redirectListCmd.Flags().StringVar(&redirectListPrefix, "prefix", "", "Only list sources starting with this prefix")
	redirectListCmd.Flags().IntVar(&redirectListLimit, "limit", 0, "Maximum redirects to list (0 for all)")
	redirectListCmd.Flags().StringVar(&redirectListOut, "out", "", "Write output to a file (default stdout)")

	addOutputFlags(redirectResolveCmd)
	redirectResolveCmd.Flags().StringVar(&redirectResolveLanguage, "lang", core.LanguageNotSpecified, "Request language")

	redirectImportCmd.Flags().BoolVar(&redirectImportSkipDuplicates, "skip-duplicates", false, "Skip entries that already exist")

	redirectExportCmd.Flags().StringVar(&redirectExportOut, "out", "", "Write YAML to a file (default stdout)")

	redirectCmd.AddCommand(redirectAddCmd, redirectListCmd, redirectResolveCmd, redirectDeleteCmd, redirectImportCmd, redirectExportCmd)
	rootCmd.AddCommand(redirectCmd)
}
