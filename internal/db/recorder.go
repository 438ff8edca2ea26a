package db

import (
	"sync"
	"time"

	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/engine"
	"github.com/veloframe/steady.video/internal/timeutil"
)

// flushBatchSize triggers a flush once this many frames are buffered,
// independent of the timer.
const flushBatchSize = 128

// Recorder implements engine.Recorder on top of a DB. Frame metrics are
// buffered in memory and flushed in batches so the engine's frame path
// never waits on sqlite. State changes are written through immediately;
// they are rare and they matter.
type Recorder struct {
	db    *DB
	runID int64

	mu     sync.Mutex
	buf    []FrameRecord
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewRecorder starts a run and a background flusher.
func NewRecorder(database *DB, instanceID, source, notes string, flushInterval time.Duration) (*Recorder, error) {
	return NewRecorderWithClock(database, instanceID, source, notes, flushInterval, timeutil.RealClock{})
}

// NewRecorderWithClock is NewRecorder with an explicit clock, for tests.
func NewRecorderWithClock(database *DB, instanceID, source, notes string, flushInterval time.Duration, clock timeutil.Clock) (*Recorder, error) {
	runID, err := database.StartRun(instanceID, source, notes)
	if err != nil {
		return nil, err
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	r := &Recorder{
		db:    database,
		runID: runID,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	// Created here, not in the goroutine, so the ticker is registered with
	// the clock before the constructor returns.
	ticker := clock.NewTicker(flushInterval)
	go r.flushLoop(ticker)
	return r, nil
}

// RunID returns the run this recorder writes to.
func (r *Recorder) RunID() int64 { return r.runID }

// RecordFrame buffers one frame observation.
func (r *Recorder) RecordFrame(m engine.FrameMetrics) {
	rec := FrameRecord{
		RunID:          r.runID,
		FrameIndex:     m.FrameIndex,
		State:          m.State,
		Regime:         m.Regime,
		TrackedPoints:  m.TrackedPoints,
		ValidPoints:    m.ValidPoints,
		Inliers:        m.Inliers,
		MotionTX:       m.Motion.TX,
		MotionTY:       m.Motion.TY,
		MotionRotation: m.Motion.Rotation(),
		CorrectiveTX:   m.Corrective.TX,
		CorrectiveTY:   m.Corrective.TY,
		StabilityScore: m.StabilityScore,
		TotalNanos:     m.Timings.TotalNanos,
		TimestampNs:    m.Timestamp.UnixNano(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buf = append(r.buf, rec)
	needFlush := len(r.buf) >= flushBatchSize
	r.mu.Unlock()

	if needFlush {
		r.Flush()
	}
}

// RecordStateChange writes one state transition straight through.
func (r *Recorder) RecordStateChange(frameIndex int64, from, to engine.State, reason string) {
	err := r.db.InsertStateChange(StateChange{
		RunID:      r.runID,
		FrameIndex: frameIndex,
		FromState:  from.String(),
		ToState:    to.String(),
		Reason:     reason,
	})
	if err != nil {
		stab.Opsf("db: failed to record state change: %v", err)
	}
}

// Flush writes any buffered frames now.
func (r *Recorder) Flush() {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := r.db.InsertFrames(batch); err != nil {
		stab.Opsf("db: failed to flush %d frame records: %v", len(batch), err)
	}
}

// Close flushes remaining frames, ends the run and stops the flusher.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	<-r.done
	r.Flush()
	return r.db.EndRun(r.runID)
}

func (r *Recorder) flushLoop(ticker timeutil.Ticker) {
	defer close(r.done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			r.Flush()
		case <-r.stop:
			return
		}
	}
}
