// Package demux implements the source reader described in spec §4.4: one
// goroutine pulls packets from a reisen.Media, classifies them by stream
// index, and distributes them onto per-stream bounded queues, handling
// pause, seek, loop modes, a pre-buffer watermark, and a recorder fan-out.
//
// Grounded on erparts-go-avebi/controller_stream.go's decodeLoop/
// scheduleLoop goroutine-pair-over-channel pattern (generalized here from
// one video stream to a reader feeding two packet queues plus a recorder
// sink) and on zsiec-prism/internal/pipeline/pipeline.go's context-driven
// Run loop with atomic forwarded-item counters, adapted for the reader's
// own stopCh/sync.WaitGroup shutdown idiom (matching the teacher's).
package demux

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erparts/reisen"

	"github.com/kestrelmedia/mediacore/internal/media"
	"github.com/kestrelmedia/mediacore/internal/queue"
)

// Hard-coded network tuning values for realtime sources, per spec §4.4.
// reisen's public surface used by this module (NewMedia/OpenDecode) does
// not expose an AVDictionary passthrough, so these constants are not
// applied to the source and nothing in this module reads them; see
// DESIGN.md for the gap.
const (
	NetworkSocketTimeout = 2 * time.Second
	NetworkMaxDelay      = 100 * time.Millisecond
	NetworkBufferSize    = 10 << 20 // 10MB
)

// errorBudget is the number of consecutive read failures that raise a
// StreamReadError notification, per spec §4.4.
const errorBudget = 25

// LoopMode selects file-source end-of-stream behavior (spec §4.4).
type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopSingle
	LoopInfinite
)

// NotifyKind enumerates the lifecycle boundaries the Demuxer reports,
// mirroring spec §4.4's "Lifecycle events emitted at boundaries" list. The
// composition root translates these into the public event taxonomy.
type NotifyKind int

const (
	NotifyOpening NotifyKind = iota
	NotifyOpened
	NotifyOpenFailed
	NotifyReadData
	NotifyReadError
	NotifyReadRecovery
	NotifyEnded
	NotifyClose
	NotifyClosed
	NotifyLooped
)

// Notification is the payload passed to a Notifier callback.
type Notification struct {
	Kind            NotifyKind
	Description     string
	Err             error
	DurationSeconds float64
	HasDuration     bool
	LoopCount       int
}

// Notifier receives Demuxer lifecycle notifications.
type Notifier func(Notification)

// RecorderSink receives a copy of every distributed packet when recording
// is active (spec §4.4 "Recording" / §4.8).
type RecorderSink interface {
	WritePacket(pkt media.Packet) error
	IsRecording() bool
	Start(path string) error
	Stop() error
}

// PreBufferConfig mirrors the public PreBufferConfig shape (duplicated
// here to avoid an import cycle with the root package).
type PreBufferConfig struct {
	Enable         bool
	VideoFrames    int
	AudioPackets   int
	RequireBoth    bool
	AutoStartAfter time.Duration
}

var (
	// ErrNoStreams is returned by Open when neither a video nor an audio
	// stream could be located in the source.
	ErrNoStreams = errors.New("demux: source has no usable video or audio stream")
	// ErrSeekUnsupported is returned by Seek on a realtime source.
	ErrSeekUnsupported = errors.New("demux: seek unsupported on realtime source")
	// ErrAlreadySeeking guards against concurrent seeks via a CAS flag.
	ErrAlreadySeeking = errors.New("demux: a seek is already in progress")
	ErrNotOpen        = errors.New("demux: source not open")
)

// WantMedia selects which elementary streams Open should look for.
type WantMedia struct {
	Video bool
	Audio bool
}

// Demuxer is the spec §4.4 source reader.
type Demuxer struct {
	notify Notifier

	mu         sync.Mutex
	media      *reisen.Media
	videoS     *reisen.VideoStream
	audioS     *reisen.AudioStream
	url        string
	realtime   bool
	loopMode   LoopMode
	maxLoops   int
	loopCount  int
	paused     bool
	pauseCond  *sync.Cond

	videoQueue *queue.PacketQueue
	audioQueue *queue.PacketQueue

	seeking atomic.Bool

	preBuffer    PreBufferConfig
	onReady      func()
	readySignaled atomic.Bool

	recorder RecorderSink

	stopCh chan struct{}
	wg     sync.WaitGroup

	errCount atomic.Int32
	everRead atomic.Bool
}

// New creates an unopened Demuxer.
func New(notify Notifier) *Demuxer {
	d := &Demuxer{
		notify:     notify,
		videoQueue: queue.NewPacketQueue(0),
		audioQueue: queue.NewPacketQueue(0),
	}
	d.pauseCond = sync.NewCond(&d.mu)
	return d
}

func (d *Demuxer) emit(n Notification) {
	if d.notify != nil {
		d.notify(n)
	}
}

// SetPreBuffer configures the pre-decode watermark and its one-shot
// on-ready callback (spec §4.4 "Pre-buffer").
func (d *Demuxer) SetPreBuffer(cfg PreBufferConfig, onReady func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preBuffer = cfg
	d.onReady = onReady
	d.readySignaled.Store(false)
}

// SetRecorderSink installs (or clears, with nil) the recorder fan-out.
func (d *Demuxer) SetRecorderSink(sink RecorderSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recorder = sink
}

// VideoQueue returns the bounded packet queue fed from the video stream.
func (d *Demuxer) VideoQueue() *queue.PacketQueue { return d.videoQueue }

// AudioQueue returns the bounded packet queue fed from the audio stream.
func (d *Demuxer) AudioQueue() *queue.PacketQueue { return d.audioQueue }

// VideoStream returns the opened video stream, or nil if none was located.
func (d *Demuxer) VideoStream() *reisen.VideoStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.videoS
}

// AudioStream returns the opened audio stream, or nil if none was located.
func (d *Demuxer) AudioStream() *reisen.AudioStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioS
}

// HasVideo reports whether a video stream was located on Open.
func (d *Demuxer) HasVideo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.videoS != nil
}

// HasAudio reports whether an audio stream was located on Open.
func (d *Demuxer) HasAudio() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioS != nil
}

// IsRealTime reports whether the current source was opened as realtime.
func (d *Demuxer) IsRealTime() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.realtime
}

// IsPaused reports whether the reader is currently paused.
func (d *Demuxer) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Open locates the best video/audio streams, rewinds an indexable source
// after discovery, and starts the reader goroutine (spec §4.4).
func (d *Demuxer) Open(url string, realtime bool, want WantMedia, loopMode LoopMode, maxLoops int) error {
	d.emit(Notification{Kind: NotifyOpening, Description: fmt.Sprintf("opening %s", url)})

	m, err := reisen.NewMedia(url)
	if err != nil {
		d.emit(Notification{Kind: NotifyOpenFailed, Err: err})
		return err
	}

	var videoStream *reisen.VideoStream
	var audioStream *reisen.AudioStream
	if want.Video {
		if vs := m.VideoStreams(); len(vs) > 0 {
			videoStream = vs[0]
		}
	}
	if want.Audio {
		if as := m.AudioStreams(); len(as) > 0 {
			audioStream = as[0]
		}
	}
	if videoStream == nil && audioStream == nil {
		d.emit(Notification{Kind: NotifyOpenFailed, Err: ErrNoStreams})
		return ErrNoStreams
	}

	if err := m.OpenDecode(); err != nil {
		d.emit(Notification{Kind: NotifyOpenFailed, Err: err})
		return err
	}
	if videoStream != nil {
		if err := videoStream.Open(); err != nil {
			_ = m.CloseDecode()
			d.emit(Notification{Kind: NotifyOpenFailed, Err: err})
			return err
		}
	}
	if audioStream != nil {
		if err := audioStream.Open(); err != nil {
			_ = m.CloseDecode()
			d.emit(Notification{Kind: NotifyOpenFailed, Err: err})
			return err
		}
	}

	var durationSeconds float64
	hasDuration := false
	if !realtime {
		if videoStream != nil {
			if dur, derr := videoStream.Duration(); derr == nil {
				durationSeconds = dur.Seconds()
				hasDuration = true
			}
		} else if audioStream != nil {
			if dur, derr := audioStream.Duration(); derr == nil {
				durationSeconds = dur.Seconds()
				hasDuration = true
			}
		}
		// source is indexable: rewind after stream discovery, per spec §4.4.
		if videoStream != nil {
			_ = videoStream.Rewind(0)
		}
		if audioStream != nil {
			_ = audioStream.Rewind(0)
		}
	}

	d.mu.Lock()
	d.media = m
	d.videoS = videoStream
	d.audioS = audioStream
	d.url = url
	d.realtime = realtime
	d.loopMode = loopMode
	d.maxLoops = maxLoops
	d.loopCount = 0
	d.paused = false
	d.mu.Unlock()

	d.videoQueue.Start()
	d.audioQueue.Start()
	d.errCount.Store(0)
	d.everRead.Store(false)

	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go d.readLoop()

	d.emit(Notification{Kind: NotifyOpened, DurationSeconds: durationSeconds, HasDuration: hasDuration})
	return nil
}

// Close stops the reader goroutine and releases the underlying decoders.
func (d *Demuxer) Close() error {
	d.emit(Notification{Kind: NotifyClose})

	d.mu.Lock()
	m := d.media
	stopCh := d.stopCh
	d.mu.Unlock()
	if m == nil {
		return ErrNotOpen
	}

	if stopCh != nil {
		close(stopCh)
	}
	d.videoQueue.Abort()
	d.audioQueue.Abort()
	d.pauseCond.Broadcast()
	d.wg.Wait()

	err := m.CloseDecode()
	m.Close()

	d.mu.Lock()
	d.media = nil
	d.videoS = nil
	d.audioS = nil
	d.mu.Unlock()

	d.emit(Notification{Kind: NotifyClosed})
	return err
}

// Pause blocks the reader thread on a condvar until Resume is called
// (file sources only; spec §4.4 "Realtime source: never pause").
func (d *Demuxer) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.realtime {
		return
	}
	d.paused = true
}

// Resume wakes a paused reader thread.
func (d *Demuxer) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.pauseCond.Broadcast()
}

// Seek repositions a non-realtime source, flushing both packet queues and
// bumping their serials so stale in-flight packets are recognized as such.
func (d *Demuxer) Seek(seconds float64) error {
	d.mu.Lock()
	realtime := d.realtime
	m := d.media
	videoS := d.videoS
	audioS := d.audioS
	d.mu.Unlock()

	if realtime {
		return ErrSeekUnsupported
	}
	if m == nil {
		return ErrNotOpen
	}
	if !d.seeking.CompareAndSwap(false, true) {
		return ErrAlreadySeeking
	}
	defer d.seeking.Store(false)

	target := time.Duration(seconds * float64(time.Second))
	var err error
	if videoS != nil {
		err = videoS.Rewind(target)
	}
	if err == nil && audioS != nil {
		err = audioS.Rewind(target)
	}
	if err != nil {
		return err
	}

	d.videoQueue.Flush()
	d.audioQueue.Flush()
	return nil
}

// StartRecording delegates to the recorder sink; only valid on realtime
// streams, per spec §4.4.
func (d *Demuxer) StartRecording(path string) error {
	d.mu.Lock()
	realtime := d.realtime
	sink := d.recorder
	d.mu.Unlock()
	if !realtime {
		return fmt.Errorf("demux: recording requires a realtime source")
	}
	if sink == nil {
		return fmt.Errorf("demux: no recorder sink configured")
	}
	return sink.Start(path)
}

// StopRecording delegates to the recorder sink.
func (d *Demuxer) StopRecording() error {
	d.mu.Lock()
	sink := d.recorder
	d.mu.Unlock()
	if sink == nil {
		return fmt.Errorf("demux: no recorder sink configured")
	}
	return sink.Stop()
}

// IsRecording reports whether the recorder sink is actively recording.
func (d *Demuxer) IsRecording() bool {
	d.mu.Lock()
	sink := d.recorder
	d.mu.Unlock()
	return sink != nil && sink.IsRecording()
}

func (d *Demuxer) readLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		d.mu.Lock()
		for d.paused {
			d.pauseCond.Wait()
			select {
			case <-d.stopCh:
				d.mu.Unlock()
				return
			default:
			}
		}
		m := d.media
		videoS := d.videoS
		audioS := d.audioS
		d.mu.Unlock()
		if m == nil {
			return
		}

		packet, found, err := m.ReadPacket()
		if err != nil {
			d.handleReadError(err)
			continue
		}
		if !found {
			if d.handleEOF() {
				continue // looped, keep reading
			}
			continue // idled or ended; readLoop keeps polling until Close
		}

		d.errCount.Store(0)
		if !d.everRead.Swap(true) {
			d.emit(Notification{Kind: NotifyReadData, Description: "first packet read"})
		}

		pkt, ok := toPacket(packet, videoS, audioS)
		if !ok {
			continue
		}
		if pkt.Kind == media.StreamVideo {
			d.distribute(d.videoQueue, pkt)
		} else {
			d.distribute(d.audioQueue, pkt)
		}

		d.mu.Lock()
		sink := d.recorder
		d.mu.Unlock()
		if sink != nil && sink.IsRecording() {
			_ = sink.WritePacket(pkt)
		}

		d.maybeSignalReady()
	}
}

func toPacket(packet *reisen.Packet, videoS *reisen.VideoStream, audioS *reisen.AudioStream) (media.Packet, bool) {
	switch packet.Type() {
	case reisen.StreamVideo:
		if videoS != nil && packet.StreamIndex() == videoS.Index() {
			return media.Packet{Kind: media.StreamVideo, StreamIdx: packet.StreamIndex(), Data: packet.Data()}, true
		}
	case reisen.StreamAudio:
		if audioS != nil && packet.StreamIndex() == audioS.Index() {
			return media.Packet{Kind: media.StreamAudio, StreamIdx: packet.StreamIndex(), Data: packet.Data()}, true
		}
	}
	return media.Packet{}, false
}

// distribute enqueues a packet, stamping it with the target queue's current
// serial and blocking while the queue is full. The enqueue is never skipped:
// no paused-queue check is made here. Forwarding to the recorder is done by
// the caller.
func (d *Demuxer) distribute(q *queue.PacketQueue, pkt media.Packet) {
	pkt.Serial = q.Serial()
	q.Push(pkt, -1)
}

func (d *Demuxer) handleReadError(err error) {
	n := d.errCount.Add(1)
	if n == errorBudget {
		d.emit(Notification{Kind: NotifyReadError, Err: err, Description: "consecutive read failures exceeded budget"})
	}
	d.mu.Lock()
	realtime := d.realtime
	d.mu.Unlock()
	if realtime {
		time.Sleep(10 * time.Millisecond)
	}
}

// handleEOF processes end-of-stream: for file sources, once both queues are
// drained, it either rewinds for another pass per loopMode or enqueues
// sentinel packets and reports the end; for realtime sources it is treated
// as a transient error. Returns true if
// playback looped and the caller should keep reading immediately.
func (d *Demuxer) handleEOF() bool {
	d.mu.Lock()
	realtime := d.realtime
	d.mu.Unlock()

	if realtime {
		d.handleReadError(errEOFTransient)
		return false
	}

	if d.videoQueue.Count() > 0 || d.audioQueue.Count() > 0 {
		return false
	}

	d.mu.Lock()
	mode := d.loopMode
	maxLoops := d.maxLoops
	loopCount := d.loopCount
	d.mu.Unlock()

	switch mode {
	case LoopSingle:
		if loopCount >= maxLoops {
			d.enqueueEOFSentinels()
			d.emit(Notification{Kind: NotifyEnded})
			return false
		}
		fallthrough
	case LoopInfinite:
		if err := d.rewindToStart(); err != nil {
			d.enqueueEOFSentinels()
			d.emit(Notification{Kind: NotifyEnded, Err: err})
			return false
		}
		d.mu.Lock()
		d.loopCount++
		count := d.loopCount
		d.mu.Unlock()
		d.emit(Notification{Kind: NotifyLooped, LoopCount: count})
		return true
	default:
		d.enqueueEOFSentinels()
		d.emit(Notification{Kind: NotifyEnded})
		return false
	}
}

// enqueueEOFSentinels pushes one IsEOF packet per active stream, per spec
// §4.4 ("enqueue an end-of-stream sentinel packet per stream" once both
// queues are empty at file EOF). A decoder worker recognizes a sentinel
// whose Serial still matches its own as "no more packets are coming" and
// exits its Run loop instead of blocking on Pop forever.
//
// Only called from handleEOF's branches that do NOT go on to loop: a loop
// restart flushes both queues right after this point, and flushing bumps
// the serial, so pushing a sentinel there first would race the decoder's
// read of it against the flush and could make it exit mid-loop instead of
// continuing to the next pass.
func (d *Demuxer) enqueueEOFSentinels() {
	d.mu.Lock()
	videoS, audioS := d.videoS, d.audioS
	d.mu.Unlock()
	if videoS != nil {
		d.videoQueue.Push(media.Packet{Kind: media.StreamVideo, Serial: d.videoQueue.Serial(), IsEOF: true}, -1)
	}
	if audioS != nil {
		d.audioQueue.Push(media.Packet{Kind: media.StreamAudio, Serial: d.audioQueue.Serial(), IsEOF: true}, -1)
	}
}

func (d *Demuxer) rewindToStart() error {
	d.mu.Lock()
	videoS, audioS := d.videoS, d.audioS
	d.mu.Unlock()

	var err error
	if videoS != nil {
		err = videoS.Rewind(0)
	}
	if err == nil && audioS != nil {
		err = audioS.Rewind(0)
	}
	if err != nil {
		return err
	}
	d.videoQueue.Flush()
	d.audioQueue.Flush()
	return nil
}

func (d *Demuxer) maybeSignalReady() {
	d.mu.Lock()
	cfg := d.preBuffer
	onReady := d.onReady
	d.mu.Unlock()
	if !cfg.Enable || onReady == nil || d.readySignaled.Load() {
		return
	}

	videoReady := d.videoQueue.Count() >= cfg.VideoFrames
	audioReady := d.audioQueue.Count() >= cfg.AudioPackets
	ready := videoReady || audioReady
	if cfg.RequireBoth {
		ready = videoReady && audioReady
	}
	if ready && d.readySignaled.CompareAndSwap(false, true) {
		onReady()
	}
}

var errEOFTransient = errors.New("demux: eof treated as transient on realtime source")
