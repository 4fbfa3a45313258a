package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/feature-export/internal/app"
	"github.com/mohammed-shakir/feature-export/internal/core/config"
	"github.com/mohammed-shakir/feature-export/internal/export"
	"github.com/mohammed-shakir/feature-export/internal/logger"
)

var Version = "dev"

var (
	outputFile string
	columns    string
	where      string
	recipient  string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "featurectl",
		Short:         "Export feature-server layers to xlsx or GeoJSON",
		Long:          "Runs the same exports as the export server from the command line, using the same environment configuration (.env is honored).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log upstream requests to stderr")

	fullCmd := &cobra.Command{
		Use:   "full",
		Short: "Page through the full-export layer and write the titled report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), true, func(ctx context.Context, svc *export.Service) (export.Artifact, error) {
				return svc.FullExport(ctx)
			})
		},
	}
	fullCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: generated name)")

	columnsCmd := &cobra.Command{
		Use:   "columns",
		Short: "Export selected columns from the column-export layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cols := config.SplitCSV(columns)
			return withService(cmd.Context(), true, func(ctx context.Context, svc *export.Service) (export.Artifact, error) {
				return svc.ColumnExport(ctx, cols, where)
			})
		},
	}
	columnsCmd.Flags().StringVarP(&columns, "columns", "c", "", "Comma-separated column names (required)")
	columnsCmd.Flags().StringVarP(&where, "where", "w", "", "Feature-server where clause (default 1=1)")
	columnsCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: Report.xlsx)")
	_ = columnsCmd.MarkFlagRequired("columns")

	geojsonCmd := &cobra.Command{
		Use:   "geojson",
		Short: "Dump the full-export layer as a GeoJSON FeatureCollection of points",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), true, func(ctx context.Context, svc *export.Service) (export.Artifact, error) {
				return svc.GeoJSONExport(ctx)
			})
		},
	}
	geojsonCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: generated name)")

	emailCmd := &cobra.Command{
		Use:   "email",
		Short: "Build the email report and send it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), false, func(ctx context.Context, svc *export.Service) (export.Artifact, error) {
				return svc.ExportAndEmail(ctx, recipient)
			})
		},
	}
	emailCmd.Flags().StringVar(&recipient, "to", "", "Recipient (default: MAIL_DEFAULT_TO)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("featurectl version %s\n", Version)
		},
	}

	rootCmd.AddCommand(fullCmd, columnsCmd, geojsonCmd, emailCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type exportFunc func(ctx context.Context, svc *export.Service) (export.Artifact, error)

// withService runs fn against a freshly built service and, when write is set, saves the artifact.
func withService(ctx context.Context, write bool, fn exportFunc) error {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	level := "warn"
	if verbose {
		level = "debug"
	}
	zl := logger.Build(logger.Config{Level: level, Console: true, Component: "featurectl"}, os.Stderr)
	log := logger.NewSlog(&zl)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := fn(ctx, a.Exporter)
	if err != nil {
		return err
	}

	path := outputFile
	if path == "" {
		path = art.Name
	}
	if write {
		if err := os.WriteFile(path, art.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Printf("✓ export %s done\n", art.ID)
	fmt.Printf("  • Rows: %d\n", art.Rows)
	if write {
		fmt.Printf("  • File: ")
		cyan.Println(path)
	}
	return nil
}
