package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrStore wraps persistence failures.
var ErrStore = errors.New("metrics store")

// Store persists execution records.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ordering: Recent returns newest records first.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Summary(ctx context.Context) (Summary, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

type executionModel struct {
	ID          string    `gorm:"primaryKey;type:text"`
	ExecutionID string    `gorm:"index"`
	Timestamp   time.Time `gorm:"index"`
	Success     bool
	State       string `gorm:"index"`
	Kind        string
	ExecutionMs int64
	CodeBytes   int
	OutputBytes int
	ToolCalls   int
}

func (executionModel) TableName() string { return "executions" }

func toModel(r Record) executionModel {
	return executionModel{
		ID:          r.ID.String(),
		ExecutionID: r.ExecutionID,
		Timestamp:   r.Timestamp,
		Success:     r.Success,
		State:       r.State,
		Kind:        r.Kind,
		ExecutionMs: r.ExecutionMs,
		CodeBytes:   r.CodeBytes,
		OutputBytes: r.OutputBytes,
		ToolCalls:   r.ToolCalls,
	}
}

func (m executionModel) record() Record {
	id, _ := uuid.Parse(m.ID)
	return Record{
		ID:          id,
		ExecutionID: m.ExecutionID,
		Timestamp:   m.Timestamp.UTC(),
		Success:     m.Success,
		State:       m.State,
		Kind:        m.Kind,
		ExecutionMs: m.ExecutionMs,
		CodeBytes:   m.CodeBytes,
		OutputBytes: m.OutputBytes,
		ToolCalls:   m.ToolCalls,
	}
}

// SQLStore keeps records in a SQLite database.
type SQLStore struct {
	db     *gorm.DB
	path   string
	logger *zap.Logger
}

// OpenStore opens (creating if needed) the SQLite database at path and
// migrates its schema. The parent directory is created as well.
func OpenStore(path string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("metrics")

	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrStore)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: creating directory: %w", ErrStore, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zapWriter{logger}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrStore, path, err)
	}
	if err := db.AutoMigrate(&executionModel{}); err != nil {
		return nil, fmt.Errorf("%w: migrating: %w", ErrStore, err)
	}

	logger.Debug("metrics store opened", zap.String("path", path))
	return &SQLStore{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (s *SQLStore) Path() string { return s.path }

// Save appends one record.
func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	model := toModel(rec)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("%w: saving record: %w", ErrStore, err)
	}
	return nil
}

// Summary aggregates every stored record in one query.
func (s *SQLStore) Summary(ctx context.Context) (Summary, error) {
	var row struct {
		TotalRuns      int64
		Successful     int64
		TimedOut       int64
		AvgExecutionMs float64
		AvgCodeBytes   float64
		AvgOutputBytes float64
		ToolCalls      int64
	}
	err := s.db.WithContext(ctx).Model(&executionModel{}).
		Select(`COUNT(*) AS total_runs,
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0) AS timed_out,
			COALESCE(AVG(execution_ms), 0) AS avg_execution_ms,
			COALESCE(AVG(code_bytes), 0) AS avg_code_bytes,
			COALESCE(AVG(output_bytes), 0) AS avg_output_bytes,
			COALESCE(SUM(tool_calls), 0) AS tool_calls`, timedOutState).
		Scan(&row).Error
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summary: %w", ErrStore, err)
	}

	sum := Summary{
		TotalRuns:      row.TotalRuns,
		Successful:     row.Successful,
		TimedOut:       row.TimedOut,
		AvgExecutionMs: row.AvgExecutionMs,
		AvgCodeBytes:   row.AvgCodeBytes,
		AvgOutputBytes: row.AvgOutputBytes,
		ToolCalls:      row.ToolCalls,
	}
	sum.finish()
	return sum, nil
}

// Recent returns up to limit records, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []executionModel
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %w", ErrStore, err)
	}
	out := make([]Record, len(rows))
	for i, m := range rows {
		out[i] = m.record()
	}
	return out, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DefaultMemoryCapacity bounds a MemoryStore created with a non-positive
// capacity.
const DefaultMemoryCapacity = 1000

// MemoryStore keeps the most recent records in a ring.
type MemoryStore struct {
	mu    sync.Mutex
	ring  []Record
	next  int
	full  bool
	total Summary
	sumMs int64
	sumCB int64
	sumOB int64
}

// NewMemoryStore returns a store holding at most capacity records. Summary
// still covers every record ever saved.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{ring: make([]Record, capacity)}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = rec
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}

	m.total.TotalRuns++
	if rec.Success {
		m.total.Successful++
	}
	if rec.State == timedOutState {
		m.total.TimedOut++
	}
	m.total.ToolCalls += int64(rec.ToolCalls)
	m.sumMs += rec.ExecutionMs
	m.sumCB += int64(rec.CodeBytes)
	m.sumOB += int64(rec.OutputBytes)
	return nil
}

func (m *MemoryStore) Summary(context.Context) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := m.total
	if n := float64(sum.TotalRuns); n > 0 {
		sum.AvgExecutionMs = float64(m.sumMs) / n
		sum.AvgCodeBytes = float64(m.sumCB) / n
		sum.AvgOutputBytes = float64(m.sumOB) / n
	}
	sum.finish()
	return sum, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.ring)
	}
	if limit > size {
		limit = size
	}
	out := make([]Record, 0, max(limit, 0))
	for i := 1; i <= limit; i++ {
		out = append(out, m.ring[(m.next-i+len(m.ring))%len(m.ring)])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// zapWriter adapts a zap logger to gorm's logger.Writer.
type zapWriter struct {
	logger *zap.Logger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
