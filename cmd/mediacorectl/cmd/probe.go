package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelmedia/mediacore"
	"github.com/kestrelmedia/mediacore/internal/events"
)

var probeCmd = &cobra.Command{
	Use:   "probe <url-or-path>",
	Short: "Open a source just long enough to report its stream layout, then close",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Duration("timeout", 10*time.Second, "give up waiting for the open/opened event after this long")
}

func runProbe(cmd *cobra.Command, args []string) error {
	url := args[0]
	profilePath, _ := cmd.Flags().GetString("profile")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := buildConfig(profilePath)
	if err != nil {
		return err
	}

	ctl := mediacore.NewController()
	defer ctl.Shutdown()

	opened := make(chan mediacore.StreamEvent, 1)
	mediacore.On(ctl, events.Sync, func(e mediacore.StreamEvent) {
		if e.Code == mediacore.EventStreamOpened || e.Code == mediacore.EventStreamOpenFailed {
			select {
			case opened <- e:
			default:
			}
		}
	})

	if err := ctl.Open(url, cfg); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ctl.Close()

	realtime := mediacore.ClassifyRealtime(url)
	fmt.Printf("source:   %s\n", url)
	fmt.Printf("realtime: %v\n", realtime)

	select {
	case e := <-opened:
		if e.HasDuration {
			fmt.Printf("duration: %.3fs\n", e.DurationSeconds)
		} else {
			fmt.Printf("duration: unknown (live or unindexed)\n")
		}
	case <-time.After(timeout):
		fmt.Printf("duration: timed out waiting for open confirmation\n")
	}

	status := ctl.PreBufferStatus()
	fmt.Printf("prebuffer: state=%d video=%d/%d audio=%d/%d\n",
		status.State, status.VideoBuffered, status.VideoRequired, status.AudioBuffered, status.AudioRequired)

	return nil
}
