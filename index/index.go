package index

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Op is the kind of mutation applied to a remote index.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Document is the tagged payload shipped to a remote index. The remote engine
// assigns identity by DocID, so re-applying the same document is idempotent.
// Delete-shaped documents carry only DocID and IndexName.
type Document struct {
	DocID       string    `json:"doc_id"`
	IndexName   string    `json:"index_name"`
	RoutingKey  string    `json:"routing_key,omitempty"`  // "project_id" or "conversation_type"
	Routing     string    `json:"routing,omitempty"`      // source id the routing key filters on
	IndexType   string    `json:"index_type,omitempty"`   // code | codex | chathistory
	FileType    string    `json:"file_type,omitempty"`    // lowercased extension without dot
	Size        int64     `json:"size,omitempty"`
	ModifiedAt  time.Time `json:"modified_at,omitempty"`
	ContentRef  string    `json:"content_ref,omitempty"` // absolute path on the watched host
}

// Payload renders the document as the remote engine's document body.
func (d Document) Payload() map[string]any {
	p := map[string]any{
		"_id":        d.DocID,
		"index_type": d.IndexType,
	}
	if d.RoutingKey != "" {
		p[d.RoutingKey] = d.Routing
	}
	if d.FileType != "" {
		p["file_type"] = d.FileType
	}
	if d.Size > 0 {
		p["file_size"] = d.Size
	}
	if !d.ModifiedAt.IsZero() {
		p["modified_at"] = d.ModifiedAt.UTC().Format(time.RFC3339)
	}
	if d.ContentRef != "" {
		p["content_ref"] = d.ContentRef
	}
	return p
}

// Operation is one queued index mutation. Attempts counts executions against
// the remote index, including the first.
type Operation struct {
	Doc      Document
	Op       Op
	Attempts int
}

// Client is the contract against the remote search engine. Both calls must be
// idempotent with respect to doc id. Errors are classified with IsRetryable.
type Client interface {
	Upsert(ctx context.Context, indexName, docID string, payload map[string]any) error
	Delete(ctx context.Context, indexName, docID string) error
	Close() error
}

// RemoteError is an error reported by a remote index backend, carrying the
// retryable-vs-fatal classification the dispatcher acts on.
type RemoteError struct {
	Backend   string
	Status    int // HTTP status or 0 when not applicable
	Retryable bool
	Msg       string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Msg)
}

// IsRetryable reports whether an operation that failed with err is worth
// retrying. Network-level failures and RemoteErrors flagged retryable
// (timeouts, 5xx-equivalents) qualify; everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Counters is a point-in-time view of dispatcher operation accounting,
// suitable for a status endpoint.
type Counters struct {
	Queued    int64 `json:"queued"`
	InFlight  int64 `json:"in_flight"`
	Succeeded int64 `json:"succeeded"`
	Abandoned int64 `json:"abandoned"`
}
