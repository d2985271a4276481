// Package audit keeps a record of every execution the gateway performs.
//
// Records never hold an execution namespace or the submitted source; they
// carry a digest of the code and a summary of the outcome.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/sandbox"
)

// Execution is the audit record of one execution request.
type Execution struct {
	ID          string    `bson:"_id" json:"id"`
	Pipeline    string    `bson:"pipeline" json:"pipeline"`
	CodeSHA256  string    `bson:"code_sha256" json:"code_sha256"`
	CodeSize    int       `bson:"code_size" json:"code_size"`
	Rejected    bool      `bson:"rejected" json:"rejected"`
	RejectRule  string    `bson:"reject_rule,omitempty" json:"reject_rule,omitempty"`
	Failed      bool      `bson:"failed" json:"failed"`
	Error       string    `bson:"error,omitempty" json:"error,omitempty"`
	StdoutBytes int       `bson:"stdout_bytes" json:"stdout_bytes"`
	HasHTML     bool      `bson:"has_html" json:"has_html"`
	DurationMS  int64     `bson:"duration_ms" json:"duration_ms"`
	RemoteAddr  string    `bson:"remote_addr,omitempty" json:"remote_addr,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// Filter defines filtering options for listing executions.
type Filter struct {
	Pipeline string
	Limit    int
}

// DefaultLimit applies when a Filter has no positive Limit.
const DefaultLimit = 50

// maxErrorLen bounds the error text kept in a record.
const maxErrorLen = 2048

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Store persists execution records.
type Store interface {
	// Record saves a new execution record.
	Record(ctx context.Context, e *Execution) error

	// List returns records newest first.
	List(ctx context.Context, f Filter) ([]Execution, error)

	// Close releases the store's connections.
	Close(ctx context.Context) error
}

// Open builds the store selected by cfg.Driver. It returns a nil Store when
// auditing is disabled.
func Open(ctx context.Context, cfg config.AuditConfig) (Store, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(cfg.Capacity), nil
	case "mongodb":
		return NewMongoStore(ctx, cfg.DSN, cfg.Database)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver: %s", cfg.Driver)
	}
}

// newExecution fills the fields shared by both pipelines.
func newExecution(p sandbox.Pipeline, code string, d time.Duration) *Execution {
	sum := sha256.Sum256([]byte(code))
	return &Execution{
		ID:         uuid.New().String(),
		Pipeline:   string(p),
		CodeSHA256: hex.EncodeToString(sum[:]),
		CodeSize:   len(code),
		DurationMS: d.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
}

// FromScreened summarises a screened execution.
func FromScreened(code string, res sandbox.ScreenedResult, d time.Duration) *Execution {
	e := newExecution(sandbox.PipelineScreened, code, d)
	e.StdoutBytes = len(res.Output)
	if res.Rejected() {
		e.Rejected = true
		e.RejectRule = string(res.Verdict.Rule)
	}
	if res.Error != nil {
		e.Failed = !e.Rejected
		e.Error = clip(*res.Error)
	}
	return e
}

// FromCapture summarises a capture execution.
func FromCapture(code string, res sandbox.CaptureResult, d time.Duration) *Execution {
	e := newExecution(sandbox.PipelineCapture, code, d)
	if res.Stdout != nil {
		e.StdoutBytes = len(*res.Stdout)
	}
	e.HasHTML = res.HTMLPreview != nil
	if res.Error != nil {
		e.Failed = true
		e.Error = clip(*res.Error)
	}
	return e
}

// clip shortens s to maxErrorLen bytes without splitting a rune.
func clip(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	n := maxErrorLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
