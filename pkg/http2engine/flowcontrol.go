package http2engine

// NextDataChunk computes how many bytes of a pending DATA payload of
// length total may be sent right now, per spec.md §4.5: the smaller of
// the stream window, the connection window, and MAX_FRAME_SIZE.
func NextDataChunk(total int, streamWindow, connWindow int64, maxFrameSize uint32) int {
	n := total
	if int64(n) > streamWindow {
		n = int(streamWindow)
	}
	if int64(n) > connWindow {
		n = int(connWindow)
	}
	if n > int(maxFrameSize) {
		n = int(maxFrameSize)
	}
	if n < 0 {
		n = 0
	}
	return n
}
