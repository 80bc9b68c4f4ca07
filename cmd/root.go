package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/preschool-etl/internal/config"
)

// logFileAnnotation names the file, relative to paths.log_dir, that a
// command appends its log lines to. "{ts}" expands to the start time.
const logFileAnnotation = "log_file"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "preschool-etl",
	Short: "California State Preschool Program ETL",
	Long:  "Downloads the CSPP spreadsheet, loads it into the preschool warehouse, geocodes addresses, and exports a JSON file for the client app.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log, logFilePath(cmd, cfg.Paths.LogDir, time.Now())); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// logFilePath resolves the command's log file annotation. Commands without
// one log to stderr only.
func logFilePath(cmd *cobra.Command, logDir string, now time.Time) string {
	name := cmd.Annotations[logFileAnnotation]
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "{ts}", now.Format("20060102_150405"))
	return filepath.Join(logDir, name)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
