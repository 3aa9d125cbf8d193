package capture

import (
	"sync"
	"time"

	"screenshare/internal/types"
)

// framePool recycles pixel buffers. A stream keeps one resolution, so most
// Gets hit a buffer of the right size.
var framePool sync.Pool

const maxPooledFrame = 64 << 20

func getFrameBuf(n int) []byte {
	if v := framePool.Get(); v != nil {
		b := *(v.(*[]byte))
		if cap(b) >= n {
			return b[:n]
		}
	}
	return make([]byte, n)
}

func putFrameBuf(b []byte) {
	if cap(b) > maxPooledFrame {
		return // don't pool oversized buffers
	}
	framePool.Put(&b)
}

// NewFrame copies a native pixel buffer into a pooled VideoFrame.
func NewFrame(src []byte, stride, width, height, pixFmt int, pts time.Duration) *types.VideoFrame {
	n := stride * height
	if n > len(src) {
		n = len(src)
	}
	buf := getFrameBuf(n)
	copy(buf, src[:n])
	f := types.NewVideoFrame(buf, putFrameBuf)
	f.Width = width
	f.Height = height
	f.Stride = stride
	f.PixFmt = pixFmt
	f.PTS = pts
	return f
}

// ptsDuration converts a CMTime value/timescale pair.
func ptsDuration(value int64, timescale int32) time.Duration {
	if timescale <= 0 {
		return 0
	}
	sec := value / int64(timescale)
	rem := value % int64(timescale)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(timescale)
}
