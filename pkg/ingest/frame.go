// Package ingest turns update-file references into encoded record batches and
// streams them to a bulk loader over a bounded channel.
package ingest

// FrameKind tags a Frame.
type FrameKind uint8

const (
	// FrameData carries encoded records for the current batch.
	FrameData FrameKind = iota
	// FrameEndOfBatch closes the current batch; the loader commits its session.
	FrameEndOfBatch
	// FrameEndOfStream ends the run; the loader finalizes and returns.
	FrameEndOfStream
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameEndOfBatch:
		return "end-of-batch"
	case FrameEndOfStream:
		return "end-of-stream"
	}
	return "unknown"
}

// Frame is one message on the producer/loader channel. Batch and stream
// boundaries are tags, never byte patterns, so they cannot collide with data.
type Frame struct {
	Kind  FrameKind
	Batch int
	Data  []byte
}

// DataFrame wraps an encoded buffer.
func DataFrame(batch int, data []byte) Frame {
	return Frame{Kind: FrameData, Batch: batch, Data: data}
}

// EndOfBatch marks the end of batch.
func EndOfBatch(batch int) Frame {
	return Frame{Kind: FrameEndOfBatch, Batch: batch}
}

// EndOfStream marks the end of the run.
func EndOfStream() Frame {
	return Frame{Kind: FrameEndOfStream}
}
