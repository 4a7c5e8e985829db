package acquisition

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/spectrum"
)

// ErrCaptureInProgress is returned when a capture is requested while another
// one is still collecting frames.
var ErrCaptureInProgress = errors.NewStd("capture already in progress")

// DefaultFrameBuffer is the frame channel capacity used when none is given.
const DefaultFrameBuffer = 64

// Capturer collects frames pushed by a camera into bursts. Frames arriving
// while no capture is armed are dropped and counted, so the producer never
// blocks.
type Capturer struct {
	frames  chan []float64
	armed   atomic.Bool
	busy    atomic.Bool
	dropped atomic.Int64
	log     logger.Logger
}

// NewCapturer returns a capturer buffering up to buffer frames.
func NewCapturer(buffer int) *Capturer {
	if buffer < 1 {
		buffer = DefaultFrameBuffer
	}
	return &Capturer{
		frames: make(chan []float64, buffer),
		log:    logger.Global().Module(componentName),
	}
}

// Push offers a frame. It returns false when the frame was dropped because
// no capture is armed or the buffer is full.
func (c *Capturer) Push(frame []float64) bool {
	if !c.armed.Load() {
		c.dropped.Add(1)
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of frames discarded so far.
func (c *Capturer) Dropped() int64 {
	return c.dropped.Load()
}

// Capture collects n frames into a burst. Frames whose width differs from
// the first frame are discarded. Capture returns early with a cancellation
// error when ctx is done.
func (c *Capturer) Capture(ctx context.Context, n int) (spectrum.Matrix, error) {
	if n < 1 {
		return nil, errors.Newf("frame count must be positive, got %d", n).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, errors.New(ErrCaptureInProgress).
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}
	defer c.busy.Store(false)

	c.drain()
	c.armed.Store(true)
	defer c.armed.Store(false)

	burst := make(spectrum.Matrix, 0, n)
	for len(burst) < n {
		select {
		case <-ctx.Done():
			return nil, errors.New(ctx.Err()).
				Component(componentName).
				Category(errors.CategoryCancellation).
				Context("frames_collected", len(burst)).
				Context("frames_requested", n).
				Build()
		case frame := <-c.frames:
			if len(burst) > 0 && len(frame) != len(burst[0]) {
				c.dropped.Add(1)
				c.log.Warn("discarding frame with mismatched width",
					logger.Int("width", len(frame)),
					logger.Int("expected", len(burst[0])))
				continue
			}
			burst = append(burst, slices.Clone(frame))
		}
	}
	return burst, nil
}

// drain discards frames left over from a previous capture.
func (c *Capturer) drain() {
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}
