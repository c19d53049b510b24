package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelmedia/mediacore"
	"github.com/kestrelmedia/mediacore/internal/events"
)

var recordCmd = &cobra.Command{
	Use:   "record <url> --out <path>",
	Short: "Open a realtime source and remux it to disk until interrupted or --duration elapses",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().String("out", "", "output file path (.ts or .mp4/.mov)")
	recordCmd.Flags().String("video-codec", "h264", "video codec identifier, for the compatibility pre-flight")
	recordCmd.Flags().String("audio-codec", "aac", "audio codec identifier, for the compatibility pre-flight")
	recordCmd.Flags().Int64("throttle-bytes-per-sec", 0, "cap output write rate (0 disables)")
	recordCmd.Flags().Duration("duration", 0, "stop recording after this long (0 runs until interrupted)")
	_ = recordCmd.MarkFlagRequired("out")
}

func runRecord(cmd *cobra.Command, args []string) error {
	url := args[0]
	profilePath, _ := cmd.Flags().GetString("profile")
	out, _ := cmd.Flags().GetString("out")
	videoCodec, _ := cmd.Flags().GetString("video-codec")
	audioCodec, _ := cmd.Flags().GetString("audio-codec")
	throttle, _ := cmd.Flags().GetInt64("throttle-bytes-per-sec")
	runDuration, _ := cmd.Flags().GetDuration("duration")

	cfg, err := buildConfig(profilePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl := mediacore.NewController()
	defer ctl.Shutdown()

	mediacore.On(ctl, events.Sync, func(e mediacore.RecordingEvent) {
		slog.Info("recording event", "code", e.Code, "path", e.Path, "error", e.ErrorMessage)
	})

	if err := ctl.Open(url, cfg); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ctl.Close()

	if err := ctl.StartDecode(); err != nil {
		return fmt.Errorf("start decode: %w", err)
	}

	if err := ctl.StartRecording(out, videoCodec, audioCodec, throttle); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	defer ctl.StopRecording()

	slog.Info("recording", "source", url, "out", out)

	if runDuration > 0 {
		go func() {
			t := time.NewTimer(runDuration)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
				stop()
			}
		}()
	}

	<-ctx.Done()
	slog.Info("stopping recording")
	return nil
}
