package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ayushbridge/bridge/internal/config"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/terminology"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
	"github.com/ayushbridge/bridge/internal/platform/db"
	"github.com/ayushbridge/bridge/migrations"
)

var errNoDatabase = errors.New("DATABASE_URL is not set")

// cliLogger keeps stdout free for command output.
func cliLogger(cmd *cobra.Command) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// loadOnce builds a snapshot from every configured source. The returned
// func releases the database pool, if one was opened.
func loadOnce(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*terminology.Manager, func(), error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if pool != nil {
		release = pool.Close
	}
	m := terminology.NewManager(translateOptions(cfg), logger, buildSources(cfg, pool)...)
	if _, err := m.Load(ctx); err != nil {
		release()
		return nil, nil, err
	}
	return m, release, nil
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load every configured source once and print snapshot statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, release, err := loadOnce(cmd.Context(), cfg, cliLogger(cmd).Level(zerolog.WarnLevel))
			if err != nil {
				return err
			}
			defer release()

			snap, err := m.Current()
			if err != nil {
				return err
			}
			sum := snap.Summary()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, sum.String())
			for _, s := range sum.Systems {
				fmt.Fprintf(w, "  %-20s %-50s %-8s %d concepts\n", s.ID, s.URL, s.Version, s.Concepts)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the summary as JSON")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate FHIR and spreadsheet content and store it in Postgres",
		Long: "Loads the FHIR directory and NAMASTE spreadsheet as one snapshot. " +
			"When the snapshot is valid the Postgres terminology tables are replaced in one transaction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			xlsx, _ := cmd.Flags().GetString("xlsx")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.TerminologyDir = dir
			}
			if xlsx != "" {
				cfg.NamasteXLSX = xlsx
			}
			if cfg.TerminologyDir == "" && cfg.NamasteXLSX == "" {
				return errors.New("nothing to import: set --dir or --xlsx")
			}
			if !dryRun && cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			return runImport(cmd.Context(), cmd.OutOrStdout(), cfg, cliLogger(cmd), dryRun)
		},
	}
	cmd.Flags().String("dir", "", "FHIR JSON directory (defaults to TERMINOLOGY_DIR)")
	cmd.Flags().String("xlsx", "", "NAMASTE workbook (defaults to NAMASTE_XLSX)")
	cmd.Flags().Bool("dry-run", false, "Validate only")
	return cmd
}

func runImport(ctx context.Context, w io.Writer, cfg *config.Config, logger zerolog.Logger, dryRun bool) error {
	// File sources only: the database is the destination.
	m := terminology.NewManager(translateOptions(cfg), logger, buildSources(cfg, nil)...)
	snap, err := m.Load(ctx)
	if err != nil {
		return fmt.Errorf("validate import: %w", err)
	}
	sum := snap.Summary()
	if dryRun {
		fmt.Fprintf(w, "Dry run: %s\n", sum.String())
		return nil
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := terminology.NewPGSource(pool).Store(ctx, pool, snap.Export()); err != nil {
		return fmt.Errorf("store terminology: %w", err)
	}
	fmt.Fprintf(w, "Imported %s\n", sum.String())
	return nil
}

func translateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate one code against freshly loaded sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req conceptmap.TranslateRequest
			req.System, _ = cmd.Flags().GetString("system")
			req.Code, _ = cmd.Flags().GetString("code")
			req.ConceptMap, _ = cmd.Flags().GetString("map")
			req.TargetSystem, _ = cmd.Flags().GetString("target")
			req.Reverse, _ = cmd.Flags().GetBool("reverse")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := cliLogger(cmd).Level(zerolog.WarnLevel)
			m, release, err := loadOnce(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			t, err := terminology.NewService(m, nil, 0, logger).Translate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), t)
		},
	}
	cmd.Flags().String("system", "", "Source system URL or id")
	cmd.Flags().String("code", "", "Code to translate")
	cmd.Flags().String("map", "", "ConceptMap URL or id")
	cmd.Flags().String("target", "", "Restrict matches to this target system")
	cmd.Flags().Bool("reverse", false, "Translate from target to source")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func expandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand one ValueSet against freshly loaded sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req valueset.ExpandRequest
			req.ValueSet, _ = cmd.Flags().GetString("valueset")
			filter, _ := cmd.Flags().GetString("filter")
			req.Filter = strings.TrimSpace(filter)
			req.System, _ = cmd.Flags().GetString("system")
			req.Offset, _ = cmd.Flags().GetInt("offset")
			req.PropertyNames, _ = cmd.Flags().GetStringSlice("property")
			req.IncludeProperties = len(req.PropertyNames) > 0

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req.Limit, _ = cmd.Flags().GetInt("count")
			if req.Limit <= 0 {
				req.Limit = cfg.ExpandDefaultCount
			}
			if req.Limit > cfg.ExpandMaxCount {
				req.Limit = cfg.ExpandMaxCount
			}

			logger := cliLogger(cmd).Level(zerolog.WarnLevel)
			m, release, err := loadOnce(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			res, err := terminology.NewService(m, nil, 0, logger).Expand(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res.Expansion)
		},
	}
	cmd.Flags().String("valueset", "", "ValueSet URL or id; a system id expands the whole system")
	cmd.Flags().String("filter", "", "Text filter")
	cmd.Flags().String("system", "", "Restrict to one included system")
	cmd.Flags().Int("count", 0, "Page size (defaults to EXPAND_DEFAULT_COUNT)")
	cmd.Flags().Int("offset", 0, "Page offset")
	cmd.Flags().StringSlice("property", nil, "Concept properties to include")
	_ = cmd.MarkFlagRequired("valueset")
	return cmd
}
