package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/code"
)

// Recorder feeds finished executions to a Collector and a Store. Either may
// be nil.
type Recorder struct {
	collector *Collector
	store     Store
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecorder returns a Recorder. A nil store is replaced by a MemoryStore so
// Summary always has data to report.
func NewRecorder(collector *Collector, store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore(DefaultMemoryCapacity)
	}
	return &Recorder{
		collector: collector,
		store:     store,
		logger:    logger.Named("metrics"),
		now:       time.Now,
	}
}

// Record implements code.Recorder. Store failures are logged, never returned
// to the executor.
func (r *Recorder) Record(ctx context.Context, req code.Request, res code.Result) {
	r.collector.Observe(res)

	rec := NewRecord(req, res, r.now())
	if err := r.store.Save(ctx, rec); err != nil {
		r.logger.Warn("failed to store execution record",
			zap.String("execution_id", res.ID),
			zap.Error(err))
	}
}

// Finding counts an inspection finding.
func (r *Recorder) Finding(rule string) {
	r.collector.ObserveFinding(rule)
}

// Summary reports aggregates over the stored records.
func (r *Recorder) Summary(ctx context.Context) (Summary, error) {
	return r.store.Summary(ctx)
}

// Recent returns the latest stored records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	return r.store.Recent(ctx, limit)
}

// Close closes the underlying store.
func (r *Recorder) Close() error {
	return r.store.Close()
}

var _ code.Recorder = (*Recorder)(nil)
