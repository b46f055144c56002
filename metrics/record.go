package metrics

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/toolharness/code"
)

// Record is the stored form of one execution.
type Record struct {
	ID          uuid.UUID `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	State       string    `json:"state"`
	Kind        string    `json:"kind,omitempty"`
	ExecutionMs int64     `json:"execution_ms"`
	CodeBytes   int       `json:"code_bytes"`
	OutputBytes int       `json:"output_bytes"`
	ToolCalls   int       `json:"tool_calls"`
}

// NewRecord builds a Record from a request and its result.
func NewRecord(req code.Request, res code.Result, now time.Time) Record {
	return Record{
		ID:          uuid.New(),
		ExecutionID: res.ID,
		Timestamp:   now.UTC(),
		Success:     res.Success,
		State:       res.State.String(),
		Kind:        res.Kind,
		ExecutionMs: res.ExecutionTimeMs,
		CodeBytes:   len(req.Code),
		OutputBytes: len(res.Output),
		ToolCalls:   len(res.ToolCalls),
	}
}

// Summary aggregates stored records.
type Summary struct {
	TotalRuns      int64   `json:"total_runs"`
	Successful     int64   `json:"successful"`
	Failed         int64   `json:"failed"`
	TimedOut       int64   `json:"timed_out"`
	SuccessRate    float64 `json:"success_rate"`
	AvgExecutionMs float64 `json:"avg_execution_ms"`
	AvgCodeBytes   float64 `json:"avg_code_bytes"`
	AvgOutputBytes float64 `json:"avg_output_bytes"`
	ToolCalls      int64   `json:"tool_calls"`
}

func (s *Summary) finish() {
	s.Failed = s.TotalRuns - s.Successful
	if s.TotalRuns > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalRuns)
	}
}

var timedOutState = code.StateTimedOut.String()
