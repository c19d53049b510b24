package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kestrelmedia/mediacore"
)

// cronParser accepts the standard 5-field expression plus the @every/@daily
// style descriptors, matching the daemon scheduler this command is
// grounded on.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var watchCmd = &cobra.Command{
	Use:   "watch <url-or-path> --schedule <cron-expr>",
	Short: "Re-run probe against a source on a cron schedule until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("schedule", "@every 1m", "cron expression or @every duration controlling probe frequency")
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := args[0]
	profilePath, _ := cmd.Flags().GetString("profile")
	schedule, _ := cmd.Flags().GetString("schedule")

	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("watch: invalid --schedule %q: %w", schedule, err)
	}

	cfg, err := buildConfig(profilePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err = c.AddFunc(schedule, func() { probeOnce(url, cfg) })
	if err != nil {
		return fmt.Errorf("watch: scheduling probe: %w", err)
	}

	slog.Info("watching on schedule", "source", url, "schedule", schedule)
	probeOnce(url, cfg) // run once immediately so the operator doesn't wait a full period

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// probeOnce opens url just long enough to log its stream layout, then
// closes it. Errors are logged rather than returned: one bad tick should
// not stop the schedule.
func probeOnce(url string, cfg mediacore.Config) {
	ctl := mediacore.NewController()
	defer ctl.Shutdown()

	if err := ctl.Open(url, cfg); err != nil {
		slog.Error("probe tick failed", "source", url, "error", err)
		return
	}
	defer ctl.Close()

	status := ctl.PreBufferStatus()
	slog.Info("probe tick", "source", url, "state", ctl.State().String(),
		"prebuffer_state", status.State, "video_buffered", status.VideoBuffered, "audio_buffered", status.AudioBuffered)
}
