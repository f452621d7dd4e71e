package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/codec"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

// maxBeginFailures is the number of consecutive batches whose session could
// not be opened before the store is treated as unreachable.
const maxBeginFailures = 3

// Sink opens bulk-load sessions against the event store.
type Sink interface {
	Begin() (Session, error)
}

// Session is one bulk-load session. Records written to it become visible on
// Commit; Rollback discards them.
type Session interface {
	Write(rec models.PersistedAnnouncement) error
	Commit() error
	Rollback() error
}

// LoadStats summarizes one Consume call.
type LoadStats struct {
	Records          int `json:"records"`
	Rejected         int `json:"rejected"`
	BatchesCommitted int `json:"batches_committed"`
	BatchesFailed    int `json:"batches_failed"`
}

// Loader drains frames into sessions, one session per batch.
type Loader struct {
	sink   Sink
	delim  rune
	logger *slog.Logger
}

// NewLoader creates a loader that decodes records separated by delim.
func NewLoader(sink Sink, delim rune, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{sink: sink, delim: delim, logger: logger.With("component", "loader")}
}

// Consume reads frames until end-of-stream and returns the load statistics.
//
// A session that fails is rolled back and the rest of its batch is dropped; the
// next batch opens a fresh session. If the channel is closed before
// end-of-stream, the flushed data is committed and ErrUnterminatedStream is
// returned. Repeated failures to open a session end consumption early.
func (l *Loader) Consume(frames <-chan Frame) (LoadStats, error) {
	var (
		stats     LoadStats
		sess      Session
		pending   int
		broken    bool
		beginFail int
	)

	fail := func(batch int, err error) {
		l.logger.Error("load session failed, dropping rest of batch", "batch", batch, "error", err)
		if sess != nil {
			if rbErr := sess.Rollback(); rbErr != nil {
				l.logger.Warn("rollback failed", "batch", batch, "error", rbErr)
			}
		}
		sess = nil
		pending = 0
		broken = true
		stats.BatchesFailed++
		metrics.ObserveBatch(metrics.OutcomeFailed)
	}

	finish := func(batch int) {
		if broken {
			broken = false
			return
		}
		if sess == nil {
			return
		}
		if err := sess.Commit(); err != nil {
			sess = nil
			fail(batch, err)
			broken = false
			return
		}
		l.logger.Debug("batch committed", "batch", batch, "records", pending)
		stats.Records += pending
		stats.BatchesCommitted++
		metrics.ObserveBatch(metrics.OutcomeCommitted)
		sess = nil
		pending = 0
	}

	for f := range frames {
		switch f.Kind {
		case FrameData:
			if broken {
				continue
			}
			if sess == nil {
				s, err := l.sink.Begin()
				if err != nil {
					fail(f.Batch, err)
					beginFail++
					if beginFail >= maxBeginFailures {
						return stats, fmt.Errorf("%d consecutive sessions failed to open: %w: %w",
							beginFail, models.ErrSessionFailed, err)
					}
					continue
				}
				beginFail = 0
				sess = s
			}
			n, rejected, err := l.writeRecords(sess, f.Data)
			pending += n
			stats.Rejected += rejected
			if err != nil {
				fail(f.Batch, err)
			}

		case FrameEndOfBatch:
			finish(f.Batch)

		case FrameEndOfStream:
			finish(f.Batch)
			return stats, nil
		}
	}

	finish(-1)
	return stats, models.ErrUnterminatedStream
}

// writeRecords decodes data and writes each record to sess. Undecodable records
// are counted and skipped; a session write error stops the frame.
func (l *Loader) writeRecords(sess Session, data []byte) (written, rejected int, err error) {
	dec := codec.NewDecoder(bytes.NewReader(data), l.delim)
	for {
		rec, err := dec.Read()
		if errors.Is(err, io.EOF) {
			return written, rejected, nil
		}
		if err != nil {
			rejected++
			l.logger.Warn("skipping undecodable record", "error", err)
			continue
		}
		if err := sess.Write(rec); err != nil {
			return written, rejected, err
		}
		written++
	}
}
