// Command voicetap taps the buffers of a virtual mixing engine and routes
// them to per-consumer level meters, serving Prometheus metrics and health
// probes while it runs.
package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicetap/internal/app"
	"github.com/MrWong99/voicetap/internal/config"
)

// Version information, set during build.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voicetap",
		Short: "Route mixing engine buffers to per-consumer channel layouts",
		Long: `voicetap registers an audio callback with the mixing engine, fans every
buffer out to the configured consumers, and routes the selected source planes
of each into that consumer's speaker layout.

Metrics are served on /metrics and health probes on /healthz and /readyz.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "voicetap.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newRunCmd(),
		newDevicesCmd(),
		newLayoutsCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the file named by --config. A missing file yields the
// default config when allowMissing is set.
func loadConfig(cmd *cobra.Command, allowMissing bool) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil && allowMissing && errors.Is(err, os.ErrNotExist) {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		return cfg, "", err
	}
	return cfg, path, err
}

// newLogger builds the process logger. level may be changed later through
// the returned LevelVar.
func newLogger(w io.Writer, level config.LogLevel, format config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.ParseLevel(level))
	opts := &slog.HandlerOptions{Level: lv}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), lv
	}
	return slog.New(slog.NewTextHandler(w, opts)), lv
}
