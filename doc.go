// Package mediacore decodes audio/video sources — files or realtime
// streams — through a demuxer, optional hardware-accelerated decoders, and
// a clock-based audio/video sync manager, exposing the result as bounded
// frame queues a caller drains at its own pace. Controller is the
// composition root; everything else lives under internal/.
package mediacore
