// Package cmd implements the mediacorectl CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ctlViper is a separate viper instance for mediacorectl configuration, kept
// apart from any viper instance an embedding application might already use.
var ctlViper = viper.New()

var rootCmd = &cobra.Command{
	Use:   "mediacorectl",
	Short: "Drive a mediacore Controller from the command line",
	Long: `mediacorectl opens a media source through mediacore.Controller and
exercises its public API end to end: decoding, seeking, speed control,
pre-buffering and real-time remux recording.

Configuration is primarily via flags, with defaults overridable through
environment variables:
  MEDIACORECTL_HW_ACCEL                 - hardware acceleration backend (auto, none, cuda, ...)
  MEDIACORECTL_RECONNECT_MAX_ATTEMPTS   - maximum reconnect attempts for realtime sources
  MEDIACORECTL_RECONNECT_INTERVAL_MS    - reconnect retry interval in milliseconds

Example:
  mediacorectl open rtsp://camera.local/stream1
  mediacorectl probe ./sample.mp4
  mediacorectl record rtsp://camera.local/stream1 --out capture.ts --duration 30s`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("mediacorectl: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("profile", "", "path to a YAML run-profile overlaying Config defaults")
}

func initConfig() {
	ctlViper.SetEnvPrefix("MEDIACORECTL")
	ctlViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	ctlViper.AutomaticEnv()
	setCtlDefaults()
}

func setCtlDefaults() {
	ctlViper.SetDefault("hw.accel", "auto")
	ctlViper.SetDefault("hw.device_index", 0)
	ctlViper.SetDefault("reconnect.enable", true)
	ctlViper.SetDefault("reconnect.max_attempts", 5)
	ctlViper.SetDefault("reconnect.interval_ms", 3000)
	ctlViper.SetDefault("prebuffer.enable", false)
	ctlViper.SetDefault("prebuffer.video_frames", 0)
	ctlViper.SetDefault("prebuffer.audio_packets", 0)
	ctlViper.SetDefault("logging.level", "info")
	ctlViper.SetDefault("logging.format", "text")
}

func initLogging() error {
	level := ctlViper.GetString("logging.level")
	format := ctlViper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	if strings.ToLower(level) == "warning" {
		level = "warn"
	}

	var slevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slevel = slog.LevelDebug
	case "warn":
		slevel = slog.LevelWarn
	case "error":
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slevel}
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// GetCtlViper returns the mediacorectl-specific viper instance, for
// subcommands that need to read flags merged with environment defaults.
func GetCtlViper() *viper.Viper {
	return ctlViper
}
