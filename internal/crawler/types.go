package crawler

import "time"

// Status is the lifecycle state of a frontier entry.
type Status string

// Frontier statuses persisted in the urls table.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is never left automatically.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// CanTransition reports whether an entry may move from one status to another.
// Only pending -> processing -> {completed, failed} and pending -> skipped are
// allowed; terminal states are never re-entered.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusSkipped
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Entry is one row of the frontier.
type Entry struct {
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	Depth       int       `json:"depth"`
	LastUpdated time.Time `json:"last_updated"`
}

// Skip records a pending entry that was moved straight to skipped during a claim.
type Skip struct {
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	Reason string `json:"reason"`
}

// Claim is the result of ClaimNext: the entry now in processing plus any
// entries the admission check rejected on the way to it.
type Claim struct {
	URL     string
	Depth   int
	Skipped []Skip
}

// Page is what a render backend returns for a single URL. Success=false with
// Error set is a clean, deterministic failure (HTTP error, empty page) and is
// never retried.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Markdown   string
	Success    bool
	Error      string
}

// ObjectInfo describes an object held in remote storage.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Artifact describes the persisted output for one completed URL.
type Artifact struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	URL           string    `json:"url"`
	Depth         int       `json:"depth"`
	JSONKey       string    `json:"json_key"`
	MarkdownKey   string    `json:"markdown_key"`
	ContentSHA256 string    `json:"content_sha256"`
	Degraded      bool      `json:"degraded"`
	CompletedAt   time.Time `json:"completed_at"`
}

// StatusCount pairs a status with the number of entries holding it.
type StatusCount struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
}
