package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelmedia/mediacore"
	"github.com/kestrelmedia/mediacore/internal/events"
)

var openCmd = &cobra.Command{
	Use:   "open <url-or-path>",
	Short: "Open, decode and print live stats for a source until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().Duration("duration", 0, "stop automatically after this long (0 runs until interrupted)")
	openCmd.Flags().Duration("stats-interval", 2*time.Second, "how often to print frame-rate stats")
	openCmd.Flags().Float64("seek", -1, "seek to this many seconds after decode starts (file sources only)")
}

func runOpen(cmd *cobra.Command, args []string) error {
	url := args[0]
	profilePath, _ := cmd.Flags().GetString("profile")
	runDuration, _ := cmd.Flags().GetDuration("duration")
	statsInterval, _ := cmd.Flags().GetDuration("stats-interval")
	seekSeconds, _ := cmd.Flags().GetFloat64("seek")

	cfg, err := buildConfig(profilePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl := mediacore.NewController()
	defer ctl.Shutdown()

	mediacore.On(ctl, events.Sync, func(e mediacore.StreamEvent) {
		slog.Info("stream event", "code", e.Code, "description", e.Description, "duration_s", e.DurationSeconds)
	})
	mediacore.On(ctl, events.Sync, func(e mediacore.DecoderEvent) {
		slog.Info("decode event", "code", e.Code, "media", e.MediaType, "description", e.Description)
	})

	slog.Info("opening source", "url", url, "realtime", mediacore.ClassifyRealtime(url))
	if err := ctl.Open(url, cfg); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ctl.Close()

	if err := ctl.StartDecode(); err != nil {
		return fmt.Errorf("start decode: %w", err)
	}

	if seekSeconds >= 0 {
		if err := ctl.Seek(seekSeconds); err != nil {
			slog.Warn("seek failed", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var videoFrames, audioFrames atomic.Int64

	if vq := ctl.VideoFrames(); vq != nil {
		g.Go(func() error { return countFrames(gctx, func() (ok bool) {
			_, ok = vq.Pop()
			return
		}, &videoFrames) })
	}
	if aq := ctl.AudioFrames(); aq != nil {
		g.Go(func() error { return countFrames(gctx, func() (ok bool) {
			_, ok = aq.Pop()
			return
		}, &audioFrames) })
	}

	g.Go(func() error { return reportStats(gctx, statsInterval, &videoFrames, &audioFrames) })

	if runDuration > 0 {
		g.Go(func() error {
			t := time.NewTimer(runDuration)
			defer t.Stop()
			select {
			case <-gctx.Done():
			case <-t.C:
				stop()
			}
			return nil
		})
	}

	<-gctx.Done()
	// Close aborts the frame queues, which is what actually wakes the
	// blocking Pop() calls inside countFrames; without it those goroutines
	// would sit past g.Wait() until something else drained them.
	_ = ctl.Close()
	_ = g.Wait()
	slog.Info("shutting down", "video_frames", videoFrames.Load(), "audio_frames", audioFrames.Load())
	return nil
}

// countFrames drains a frame queue via pop (video or audio) until ctx is
// cancelled or the queue reports aborted (pop returns ok=false), tallying
// into count.
func countFrames(ctx context.Context, pop func() bool, count *atomic.Int64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !pop() {
			return nil
		}
		count.Add(1)
	}
}

func reportStats(ctx context.Context, interval time.Duration, video, audio *atomic.Int64) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastV, lastA int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, a := video.Load(), audio.Load()
			fmt.Fprintf(os.Stdout, "video=%d (+%d) audio=%d (+%d)\n", v, v-lastV, a, a-lastA)
			lastV, lastA = v, a
		}
	}
}
