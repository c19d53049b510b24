package recorder

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds the token bucket so a stalled recording target can't
// let an enormous reservation build up before the writer blocks.
const maxBurstSize = 256 * 1024

// throttledWriter is an io.Writer with token-bucket rate limiting, grounded
// on nishisan-dev-n-backup/internal/agent/throttle.go's ThrottledWriter. It
// bounds the recorder's write thread to bytesPerSec against the output
// file, so a burst of keyframes can't spike disk I/O.
type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// newThrottledWriter returns w unchanged if bytesPerSec <= 0 (no limit).
func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &throttledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	total := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}

		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}

		p = p[n:]
	}

	return total, nil
}
