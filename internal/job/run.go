package job

import "time"

// Outcome classifies how a single attempt (or a whole fire) ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Run is the transient record of one attempt. It exists only long enough to
// be logged and folded into Stats; nothing persists it.
type Run struct {
	Job      string        `json:"job"`
	Attempt  int           `json:"attempt"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  Outcome       `json:"outcome"`
	Records  int           `json:"records"`
	Error    string        `json:"error,omitempty"`
}

// Stats is the cumulative in-memory counter set for one job. The execution
// coordinator is the only writer; monitoring reads snapshots.
// LastRun and NextFire are pointers so jobs that never ran serialize
// without a bogus zero time.
type Stats struct {
	Job            string     `json:"job"`
	TotalFires     uint64     `json:"total_fires"`
	TotalSuccesses uint64     `json:"total_successes"`
	TotalFailures  uint64     `json:"total_failures"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	LastOutcome    Outcome    `json:"last_outcome,omitempty"`
	LastRecords    int        `json:"last_records"`
	LastError      string     `json:"last_error,omitempty"`
	NextFire       *time.Time `json:"next_fire,omitempty"`
}
