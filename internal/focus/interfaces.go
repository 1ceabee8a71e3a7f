package focus

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals a request rejected by a precondition, such as
	// triggering a disabled query.
	ErrConflict = errors.New("conflicting state")
	// ErrTerminal signals an attempted mutation of a run that already
	// reached COMPLETED or FAILED.
	ErrTerminal = errors.New("run already terminal")
)

// RunStore is the single source of truth for run lifecycle state. All
// transition methods enforce monotonicity: once a run is terminal every
// further mutation returns ErrTerminal, and progress writes below the
// current value are ignored.
type RunStore interface {
	CreateRun(ctx context.Context, run QueryRun) error
	GetRun(ctx context.Context, runID string) (QueryRun, error)
	// MarkRunning transitions PENDING -> RUNNING. It fails with ErrTerminal
	// for terminal runs and ErrConflict if the run is already RUNNING,
	// which is how at-most-one-worker ownership is surfaced.
	MarkRunning(ctx context.Context, runID string) error
	SetProgress(ctx context.Context, runID string, progress int) error
	// Finish moves the run to COMPLETED or FAILED and stamps finishedAt.
	Finish(ctx context.Context, runID string, status RunStatus, errText string) error
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]QueryRun, error)
}

// CatalogStore reads the configuration records owned by the external CRUD
// collaborator. The pipeline never writes through this interface.
type CatalogStore interface {
	GetQuery(ctx context.Context, queryID string) (Query, error)
	GetProxy(ctx context.Context, proxyID string) (Proxy, error)
	ListProxies(ctx context.Context) ([]Proxy, error)
}

// ContentStore persists matched content records.
type ContentStore interface {
	CreateContent(ctx context.Context, record ContentRecord) error
}

// Queue provides claim semantics for collection jobs. Dequeue hands each job
// to exactly one worker; Nack either schedules a redelivery with backoff or
// dead-letters the job once attempts are exhausted.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	// Nack reports a handler failure. The returned bool is true when the
	// job will be redelivered, false when it was dead-lettered.
	Nack(ctx context.Context, job Job, cause error) (bool, error)
}

// SourceAdapter fetches raw content candidates for one source kind. The
// returned slice is finite; a failed invocation is not retried internally.
type SourceAdapter interface {
	Kind() SourceKind
	Fetch(ctx context.Context, req FetchRequest) ([]Candidate, error)
}

// FetchRequest parameterizes one adapter invocation.
type FetchRequest struct {
	RunID  string
	Source Source
	// Proxy is nil when the source has no usable egress configured.
	Proxy *Proxy
	// Terms are the include terms the adapter may use for server-side
	// filtering (search engines, feeds). Adapters may ignore them.
	Terms []string
}

// Expander optionally widens a keyword's include terms with synonyms. It is
// best-effort: an error degrades matching to the literal term sets.
type Expander interface {
	Expand(ctx context.Context, seed []string, lang KeywordLang) ([]string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
