package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/preschool-etl/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:         "extract",
	Short:       "Download the CSPP spreadsheet and load new preschools",
	Annotations: map[string]string{logFileAnnotation: extractLogFile},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		env, err := newStageEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		ex, err := env.extractor()
		if err != nil {
			return err
		}
		return env.runSingle(ctx, pipeline.StateExtract, ex)
	},
}

var geocodeBatch int

var geocodeCmd = &cobra.Command{
	Use:         "geocode",
	Short:       "Geocode one batch of preschools without a location",
	Annotations: map[string]string{logFileAnnotation: geocodeLogFile},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if geocodeBatch > 0 {
			cfg.Geocode.BatchSize = geocodeBatch
		}
		if err := cfg.Validate("geocode"); err != nil {
			return err
		}
		env, err := newStageEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.runSingle(ctx, pipeline.StateGeocode, env.enricher())
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:         "export",
	Short:       "Write geocoded preschools to the client JSON file",
	Annotations: map[string]string{logFileAnnotation: exportLogFile},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if exportOut != "" {
			cfg.Export.Path = exportOut
		}
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		env, err := newStageEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.runSingle(ctx, pipeline.StateExport, env.exporter())
	},
}

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Run extract, geocode and export in order",
	Long:        "Runs the full ETL. A geocoding failure is logged and the export still runs; extract or export failures fail the run. Each stage also appends to its own log file.",
	Annotations: map[string]string{logFileAnnotation: runLogFile},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}
		env, err := newStageEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		ex, err := env.extractor()
		if err != nil {
			return err
		}
		steps := withStageLogs(pipeline.Standard(ex, env.enricher(), env.exporter()), cfg.Paths.LogDir)
		res, err := env.orchestrate(ctx, steps)
		if res != nil {
			printRunResult(cmd.OutOrStdout(), res)
		}
		return err
	},
}

func init() {
	geocodeCmd.Flags().IntVar(&geocodeBatch, "batch", 0, "max preschools to geocode (default from config)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "export file path (default from config)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(geocodeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(runCmd)
}
