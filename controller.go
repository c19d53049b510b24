package mediacore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmedia/mediacore/internal/decode"
	"github.com/kestrelmedia/mediacore/internal/demux"
	"github.com/kestrelmedia/mediacore/internal/events"
	"github.com/kestrelmedia/mediacore/internal/hwaccel"
	"github.com/kestrelmedia/mediacore/internal/media"
	"github.com/kestrelmedia/mediacore/internal/queue"
	"github.com/kestrelmedia/mediacore/internal/recorder"
	syncmgr "github.com/kestrelmedia/mediacore/internal/sync"
)

// EventListener receives typed Events emitted by a Controller.
type EventListener func(Event)

// eventQueueDepth sizes the dispatcher's queued-mode worker channel.
const eventQueueDepth = 256

// reconnectStopPollInterval is how often the reconnect loop rechecks its
// stop flag between sleeps, per spec §4.9 "checking stop flag every 100ms".
const reconnectStopPollInterval = 100 * time.Millisecond

// reconnectReopenDelay is the fixed pause between closing the demuxer and
// reopening it during a reconnect attempt, per spec §4.9.
const reconnectReopenDelay = 300 * time.Millisecond

// PreBufferState reports where a newly opened source is in the pre-buffer
// ramp-up (spec §4.9 "Pre-buffer").
type PreBufferState int

const (
	PreBufferDisabled PreBufferState = iota
	PreBufferWaiting
	PreBufferReady
)

// PreBufferStatus is a point-in-time snapshot of pre-buffer progress.
type PreBufferStatus struct {
	State             PreBufferState
	VideoBuffered     int
	VideoRequired     int
	AudioBuffered     int
	AudioRequired     int
	OverallPercentage float64
}

// Controller is the spec §4.9 DecoderController: the composition root that
// wires a Demuxer, up to two Decoders, a sync Manager, and a Recorder into
// one lifecycle, translating every component's internal Notification into
// the public Event taxonomy.
//
// Grounded on erparts-go-avebi/player.go's Player (the same "one façade
// over a controller interface plus its internal goroutines" shape) and
// controller_stream.go's Play/Pause/Stop/Seek state machine, generalized
// from one video-only or video+audio controller pair into the full
// demux+video+audio+recorder composition spec §4.9 names.
type Controller struct {
	mu sync.Mutex

	disp      *events.Dispatcher
	sessionID uuid.UUID

	cfg      Config
	url      string
	realtime bool
	state    PlaybackState

	speedMu sync.RWMutex
	speed   float64

	demuxer  *demux.Demuxer
	videoDec *decode.VideoDecoder
	audioDec *decode.AudioDecoder
	syncMgr  *syncmgr.Manager
	rec      *recorder.Recorder
	accel    hwaccel.Accelerator

	decodersWG sync.WaitGroup

	asyncCtx    context.Context
	asyncCancel context.CancelFunc
	asyncWG     sync.WaitGroup

	stopReconnectCh chan struct{}
	reconnecting    bool
}

// NewController returns a Controller with no source open. Call Shutdown
// once the Controller itself is being discarded, to stop its event
// dispatcher's queued-mode worker.
func NewController() *Controller {
	return &Controller{
		disp:      events.New(eventQueueDepth),
		sessionID: uuid.New(),
		cfg:       DefaultConfig(),
		speed:     1.0,
		state:     Stopped,
	}
}

// On registers fn for a specific concrete Event type (StreamEvent,
// DecoderEvent, SeekEvent, RecordingEvent, or LoopEvent), dispatched
// according to mode (spec §4.10's synchronous vs. queued modes). fn only
// runs for events of exactly that type; filtering by EventCode within it
// is the caller's job if one listener needs to cover several codes.
func On[T Event](c *Controller, mode events.Mode, fn func(T)) {
	events.Subscribe(c.disp, mode, fn)
}

// OnAny registers fn as a global listener invoked for every emitted event
// regardless of concrete type.
func (c *Controller) OnAny(mode events.Mode, fn EventListener) {
	events.SubscribeAll(c.disp, mode, func(e any) { fn(e.(Event)) })
}

func (c *Controller) dispatch(e Event) {
	c.disp.Emit(e)
}

func (c *Controller) header(code EventCode) EventHeader {
	return EventHeader{Code: code, Timestamp: time.Now(), SessionID: c.sessionID, Source: "mediacore"}
}

func (c *Controller) emitStream(n demux.Notification) {
	code, ok := streamCodeFor(n.Kind)
	if !ok {
		return
	}
	h := c.header(code)
	if n.Err != nil {
		h.ErrorMessage = n.Err.Error()
	}
	h.Description = n.Description
	if n.Kind == demux.NotifyLooped {
		c.dispatch(LoopEvent{EventHeader: h, LoopCount: n.LoopCount})
		return
	}
	ev := StreamEvent{EventHeader: h, DurationSeconds: n.DurationSeconds, HasDuration: n.HasDuration}
	c.dispatch(ev)

	if n.Kind == demux.NotifyReadError && c.cfg.EnableAutoReconnect && c.realtime {
		c.triggerReconnect()
	}
}

func streamCodeFor(k demux.NotifyKind) (EventCode, bool) {
	switch k {
	case demux.NotifyOpening:
		return EventStreamOpening, true
	case demux.NotifyOpened:
		return EventStreamOpened, true
	case demux.NotifyOpenFailed:
		return EventStreamOpenFailed, true
	case demux.NotifyReadData:
		return EventStreamReadData, true
	case demux.NotifyReadError:
		return EventStreamReadError, true
	case demux.NotifyReadRecovery:
		return EventStreamReadRecovery, true
	case demux.NotifyEnded:
		return EventStreamEnded, true
	case demux.NotifyClose:
		return EventStreamClose, true
	case demux.NotifyClosed:
		return EventStreamClosed, true
	case demux.NotifyLooped:
		return EventStreamLooped, true
	default:
		return 0, false
	}
}

func (c *Controller) emitDecode(mt MediaType) decode.Notifier {
	return func(n decode.Notification) {
		code, ok := decodeCodeFor(n.Kind)
		if !ok {
			return
		}
		h := c.header(code)
		h.Description = n.Description
		if n.Err != nil {
			h.ErrorMessage = n.Err.Error()
		}
		c.dispatch(DecoderEvent{EventHeader: h, MediaType: mt})
	}
}

func decodeCodeFor(k decode.NotifyKind) (EventCode, bool) {
	switch k {
	case decode.NotifyStarted:
		return EventDecodeStarted, true
	case decode.NotifyStopped:
		return EventDecodeStopped, true
	case decode.NotifyCreateFailed:
		return EventDecodeCreateFailed, true
	case decode.NotifyFirstFrame:
		return EventDecodeFirstFrame, true
	case decode.NotifyError:
		return EventDecodeError, true
	case decode.NotifyRecovery:
		return EventDecodeRecovery, true
	default:
		return 0, false
	}
}

func (c *Controller) emitRecording(n recorder.Notification) {
	code, ok := recordingCodeFor(n.Kind)
	if !ok {
		return
	}
	h := c.header(code)
	if n.Err != nil {
		h.ErrorMessage = n.Err.Error()
	}
	c.dispatch(RecordingEvent{EventHeader: h, Path: n.Path})
}

func recordingCodeFor(k recorder.NotifyKind) (EventCode, bool) {
	switch k {
	case recorder.NotifyRecordingStarted:
		return EventRecordingStarted, true
	case recorder.NotifyRecordingStopped:
		return EventRecordingStopped, true
	case recorder.NotifyRecordingError:
		return EventRecordingError, true
	default:
		return 0, false
	}
}

// Open cancels any in-flight async open, stops any reconnect loop, then
// opens url synchronously (spec §4.9 "open(url, config)").
func (c *Controller) Open(url string, cfg Config) error {
	c.CancelAsyncOpen()
	c.stopReconnectLoop()
	return c.openInternal(url, cfg)
}

// OpenAsync runs Open in the background, invoking cb with the result once
// it completes (or once cancelled, with ErrAsyncOpenCancelled).
func (c *Controller) OpenAsync(url string, cfg Config, cb func(error)) {
	c.CancelAsyncOpen()
	c.stopReconnectLoop()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.asyncCtx, c.asyncCancel = ctx, cancel
	c.mu.Unlock()

	c.asyncWG.Add(1)
	go func() {
		defer c.asyncWG.Done()
		err := c.openInternal(url, cfg)
		if ctx.Err() != nil {
			if err == nil {
				_ = c.Close()
			}
			if cb != nil {
				cb(ErrAsyncOpenCancelled)
			}
			return
		}
		if cb != nil {
			cb(err)
		}
	}()
}

// CancelAsyncOpen raises the single-shot cancel flag for an in-flight
// OpenAsync and joins it (spec §4.9).
func (c *Controller) CancelAsyncOpen() {
	c.mu.Lock()
	cancel := c.asyncCancel
	c.asyncCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.asyncWG.Wait()
}

func (c *Controller) openInternal(url string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	realtime := ClassifyRealtime(url)

	c.mu.Lock()
	c.cfg = cfg
	c.url = url
	c.realtime = realtime
	c.speedMu.Lock()
	c.speed = cfg.Speed
	c.speedMu.Unlock()
	c.mu.Unlock()

	d := demux.New(c.emitStream)
	want := demux.WantMedia{Video: cfg.DecodeMediaType.HasVideo(), Audio: cfg.DecodeMediaType.HasAudio()}

	loopMode := demux.LoopNone
	if !realtime {
		loopMode = demux.LoopSingle
	}

	if err := d.Open(url, realtime, want, loopMode, 0); err != nil {
		return err
	}

	d.SetPreBuffer(demux.PreBufferConfig{
		Enable:         cfg.PreBuffer.Enable,
		VideoFrames:    cfg.PreBuffer.VideoFrames,
		AudioPackets:   cfg.PreBuffer.AudioPackets,
		RequireBoth:    cfg.PreBuffer.RequireBoth,
		AutoStartAfter: time.Duration(cfg.PreBuffer.AutoStartAfter) * time.Millisecond,
	}, nil)

	c.mu.Lock()
	c.demuxer = d
	c.mu.Unlock()
	return nil
}

// StartDecode resets clocks, wires and starts the video/audio decoders
// against the now-open demuxer, selects the master clock, and parks
// decoders behind the pre-buffer gate if enabled (spec §4.9).
func (c *Controller) StartDecode() error {
	c.mu.Lock()
	d := c.demuxer
	cfg := c.cfg
	realtime := c.realtime
	c.mu.Unlock()
	if d == nil {
		return ErrNotOpen
	}

	params := syncmgr.DefaultParams()
	if d.HasAudio() && cfg.DecodeMediaType.HasAudio() {
		params.Master = syncmgr.MasterAudio
	} else {
		params.Master = syncmgr.MasterVideo
	}
	syncMgr := syncmgr.New(params)

	var accel hwaccel.Accelerator
	if cfg.DecodeMediaType.HasVideo() && d.HasVideo() && cfg.HWAccelType != HWAccelNone {
		var create func(hwaccel.Type, int) (any, error)
		if cfg.HWContext.Create != nil {
			create = func(t hwaccel.Type, idx int) (any, error) {
				return cfg.HWContext.Create(HWAccelType(t), idx)
			}
		}
		a, err := hwaccel.Create(hwaccel.Type(cfg.HWAccelType), cfg.HWDeviceIndex, create)
		if err == nil {
			accel = a
		} else if !cfg.EnableHardwareFallback {
			return err
		}
	}

	c.mu.Lock()
	c.syncMgr = syncMgr
	c.accel = accel
	c.mu.Unlock()

	speedFn := func() float64 {
		c.speedMu.RLock()
		defer c.speedMu.RUnlock()
		return c.speed
	}

	if cfg.DecodeMediaType.HasVideo() && d.HasVideo() {
		vd := decode.NewVideoDecoder(d.VideoStream(), d.VideoQueue(), syncMgr, decode.VideoConfig{
			TargetPixelFormat:      string(cfg.SWVideoOutFormat),
			FrameRateControl:       cfg.EnableFrameRateControl,
			EnableHardwareFallback: cfg.EnableHardwareFallback,
			Accelerator:            accel,
		}, c.emitDecode(MediaVideo), speedFn)
		c.mu.Lock()
		c.videoDec = vd
		c.mu.Unlock()
	}
	if cfg.DecodeMediaType.HasAudio() && d.HasAudio() {
		ad := decode.NewAudioDecoder(d.AudioStream(), d.AudioQueue(), syncMgr, decode.AudioConfig{
			Interleaved: cfg.AudioInterleaved,
			Channels:    2,
		}, realtime, c.emitDecode(MediaAudio), speedFn)
		c.mu.Lock()
		c.audioDec = ad
		c.mu.Unlock()
	}

	if cfg.PreBuffer.Enable {
		var ready atomic.Bool
		d.SetPreBuffer(demux.PreBufferConfig{
			Enable:         cfg.PreBuffer.Enable,
			VideoFrames:    cfg.PreBuffer.VideoFrames,
			AudioPackets:   cfg.PreBuffer.AudioPackets,
			RequireBoth:    cfg.PreBuffer.RequireBoth,
			AutoStartAfter: time.Duration(cfg.PreBuffer.AutoStartAfter) * time.Millisecond,
		}, func() { ready.Store(true) })
		if c.videoDec != nil {
			c.videoDec.SetPreBufferGate(ready.Load)
		}
		if c.audioDec != nil {
			c.audioDec.SetPreBufferGate(ready.Load)
		}
	}

	if c.videoDec != nil {
		c.decodersWG.Add(1)
		go func() {
			defer c.decodersWG.Done()
			c.videoDec.Run(func() bool { return d.VideoQueue().IsAborted() })
		}()
	}
	if c.audioDec != nil {
		c.decodersWG.Add(1)
		go func() {
			defer c.decodersWG.Done()
			c.audioDec.Run(func() bool { return d.AudioQueue().IsAborted() })
		}()
	}

	c.mu.Lock()
	c.state = Playing
	c.mu.Unlock()
	c.dispatch(DecoderEvent{EventHeader: c.header(EventDecodeStarted), MediaType: MediaVideo})
	return nil
}

// VideoFrames returns the decoded video frame queue, or nil if no video
// decoder is active.
func (c *Controller) VideoFrames() *queue.FrameQueue[media.VideoFrame] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.videoDec == nil {
		return nil
	}
	return c.videoDec.Frames()
}

// AudioFrames returns the decoded audio frame queue, or nil if no audio
// decoder is active.
func (c *Controller) AudioFrames() *queue.FrameQueue[media.AudioFrame] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audioDec == nil {
		return nil
	}
	return c.audioDec.Frames()
}

// Pause cascades to the demuxer (file sources only; spec §4.9).
func (c *Controller) Pause() {
	c.mu.Lock()
	d := c.demuxer
	c.state = Paused
	c.mu.Unlock()
	if d != nil {
		d.Pause()
	}
}

// Resume cascades to the demuxer; on a realtime stream it also resets
// clocks (spec §4.9 "resume on a realtime stream resets clocks").
func (c *Controller) Resume() {
	c.mu.Lock()
	d := c.demuxer
	syncMgr := c.syncMgr
	realtime := c.realtime
	c.state = Playing
	c.mu.Unlock()
	if d != nil {
		d.Resume()
	}
	if realtime && syncMgr != nil {
		c.resetClocks(syncMgr)
	}
}

func (c *Controller) resetClocks(syncMgr *syncmgr.Manager) {
	syncMgr.AudioClock().Reset(0)
	syncMgr.VideoClock().Reset(0)
	syncMgr.ExternalClock().Reset(0)
}

// Seek delegates to the demuxer (invalid on realtime), then resets clocks,
// clears frame queues, and re-anchors decoders to pos (spec §4.9).
func (c *Controller) Seek(seconds float64) error {
	c.mu.Lock()
	d := c.demuxer
	realtime := c.realtime
	syncMgr := c.syncMgr
	videoDec := c.videoDec
	audioDec := c.audioDec
	c.mu.Unlock()

	if realtime {
		return ErrSeekUnsupported
	}
	if d == nil {
		return ErrNotOpen
	}

	if err := d.Seek(seconds); err != nil {
		return err
	}

	if syncMgr != nil {
		c.resetClocks(syncMgr)
		serial := d.VideoQueue().Serial()
		syncMgr.UpdateAudioClock(seconds, d.AudioQueue().Serial())
		syncMgr.UpdateVideoClock(seconds, serial)
	}
	if videoDec != nil {
		videoDec.Frames().Clear()
		videoDec.SetSeekPos(seconds)
	}
	if audioDec != nil {
		audioDec.Frames().Clear()
		audioDec.SetSeekPos(seconds)
	}

	h := c.header(EventSeekSuccess)
	c.dispatch(SeekEvent{EventHeader: h, TargetSeconds: seconds})
	return nil
}

// SetSpeed updates playback speed (invalid on realtime); decoders poll it
// through the speedFn closure installed at StartDecode (spec §4.9).
func (c *Controller) SetSpeed(s float64) error {
	c.mu.Lock()
	realtime := c.realtime
	syncMgr := c.syncMgr
	c.mu.Unlock()

	if realtime {
		return ErrSpeedUnsupported
	}
	if s <= 0 {
		return ErrInvalidSpeed
	}

	c.speedMu.Lock()
	c.speed = s
	c.speedMu.Unlock()

	c.mu.Lock()
	c.cfg.Speed = s
	c.mu.Unlock()

	if syncMgr != nil {
		syncMgr.AudioClock().SetSpeed(s)
		syncMgr.VideoClock().SetSpeed(s)
	}
	return nil
}

// PreBufferStatus reports Disabled/Waiting/Ready and per-media progress
// (spec §4.9 "Pre-buffer").
func (c *Controller) PreBufferStatus() PreBufferStatus {
	c.mu.Lock()
	cfg := c.cfg
	d := c.demuxer
	c.mu.Unlock()

	if !cfg.PreBuffer.Enable || d == nil {
		return PreBufferStatus{State: PreBufferDisabled}
	}

	videoBuffered := d.VideoQueue().Count()
	audioBuffered := d.AudioQueue().Count()

	videoPct := percentDone(videoBuffered, cfg.PreBuffer.VideoFrames)
	audioPct := percentDone(audioBuffered, cfg.PreBuffer.AudioPackets)

	ready := false
	if cfg.PreBuffer.RequireBoth {
		ready = videoPct >= 100 && audioPct >= 100
	} else {
		ready = videoPct >= 100 || audioPct >= 100
	}

	overall := videoPct
	if audioPct > overall {
		overall = audioPct
	}

	state := PreBufferWaiting
	if ready {
		state = PreBufferReady
	}
	return PreBufferStatus{
		State:             state,
		VideoBuffered:     videoBuffered,
		VideoRequired:     cfg.PreBuffer.VideoFrames,
		AudioBuffered:     audioBuffered,
		AudioRequired:     cfg.PreBuffer.AudioPackets,
		OverallPercentage: overall,
	}
}

func percentDone(have, want int) float64 {
	if want <= 0 {
		return 100
	}
	pct := 100 * float64(have) / float64(want)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// StartRecording delegates to the demuxer's recorder sink (spec §4.9
// "Recording: delegate start_recording/stop_recording to the demuxer").
func (c *Controller) StartRecording(path, videoCodec, audioCodec string, throttleBytesPerSec int64) error {
	c.mu.Lock()
	d := c.demuxer
	c.mu.Unlock()
	if d == nil {
		return ErrNotOpen
	}

	rec := recorder.New(c.emitRecording, videoCodec, audioCodec, throttleBytesPerSec)
	d.SetRecorderSink(rec)

	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()

	return d.StartRecording(path)
}

// StopRecording delegates to the demuxer's recorder sink.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	d := c.demuxer
	c.mu.Unlock()
	if d == nil {
		return ErrNotOpen
	}
	return d.StopRecording()
}

// Close stops any reconnect loop, tears down decoders, and closes the
// demuxer.
func (c *Controller) Close() error {
	c.stopReconnectLoop()

	c.mu.Lock()
	d := c.demuxer
	accel := c.accel
	videoDec := c.videoDec
	audioDec := c.audioDec
	c.videoDec = nil
	c.audioDec = nil
	c.accel = nil
	c.state = Stopped
	c.mu.Unlock()

	if d == nil {
		return nil
	}

	err := d.Close()
	// A decoder worker can be blocked on its own frame ring (GetWritableFrame)
	// rather than on the packet queue d.Close just aborted, so that ring
	// needs its own abort signal or decodersWG.Wait below never returns.
	if videoDec != nil {
		videoDec.Frames().SetAbortStatus(true)
	}
	if audioDec != nil {
		audioDec.Frames().SetAbortStatus(true)
	}
	c.decodersWG.Wait()

	if accel != nil {
		if aerr := accel.Close(); aerr != nil && err == nil {
			err = aerr
		}
	}

	c.mu.Lock()
	c.demuxer = nil
	c.mu.Unlock()
	return err
}

// Shutdown stops the Controller's event dispatcher's queued-mode worker.
// Call it once, after a final Close, when the Controller itself is being
// discarded.
func (c *Controller) Shutdown() {
	c.disp.Close()
}

// State returns the controller's current playback state.
func (c *Controller) State() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// --- reconnect loop (spec §4.9 "Reconnect loop") ---

func (c *Controller) triggerReconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	stopCh := make(chan struct{})
	c.stopReconnectCh = stopCh
	cfg := c.cfg
	url := c.url
	wasPaused := c.state == Paused
	hadDecode := c.videoDec != nil || c.audioDec != nil
	c.mu.Unlock()

	go c.reconnectLoop(stopCh, url, cfg, wasPaused, hadDecode)
}

// StopReconnect raises should_stop_reconnect and returns once the loop has
// observed it (spec §5 "Cancellation... Reconnect uses should_stop_reconnect
// and joins its thread").
func (c *Controller) StopReconnect() {
	c.stopReconnectLoop()
}

func (c *Controller) stopReconnectLoop() {
	c.mu.Lock()
	stopCh := c.stopReconnectCh
	c.stopReconnectCh = nil
	c.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
}

func (c *Controller) reconnectLoop(stopCh chan struct{}, url string, cfg Config, wasPaused, hadDecode bool) {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempts := 0
	interval := time.Duration(cfg.ReconnectIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 3000 * time.Millisecond
	}

	for cfg.MaxReconnectAttempts <= 0 || attempts < cfg.MaxReconnectAttempts {
		select {
		case <-stopCh:
			return
		default:
		}
		attempts++

		c.mu.Lock()
		d := c.demuxer
		c.videoDec = nil
		c.audioDec = nil
		c.mu.Unlock()
		if d != nil {
			_ = d.Close()
		}

		if !sleepInterruptible(reconnectReopenDelay, stopCh) {
			return
		}

		if err := c.openInternal(url, cfg); err == nil {
			if wasPaused {
				c.Pause()
			}
			if hadDecode {
				_ = c.StartDecode()
			}
			return
		}

		if !sleepInSlices(interval, stopCh) {
			return
		}
	}
}

// sleepInterruptible sleeps d or returns false early if stopCh closes.
func sleepInterruptible(d time.Duration, stopCh chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}

// sleepInSlices sleeps total in reconnectStopPollInterval slices, checking
// stopCh between each (spec §4.9 "sleeping... but checking stop flag every
// 100ms").
func sleepInSlices(total time.Duration, stopCh chan struct{}) bool {
	deadline := time.Now().Add(total)
	for time.Now().Before(deadline) {
		slice := reconnectStopPollInterval
		if remaining := time.Until(deadline); remaining < slice {
			slice = remaining
		}
		if !sleepInterruptible(slice, stopCh) {
			return false
		}
	}
	return true
}
