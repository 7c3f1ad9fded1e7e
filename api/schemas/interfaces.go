package schemas

import (
	"context"
	"time"
)

// Driver is the automation collaborator every agent drives its session
// through. Implementations may speak CDP to a real browser or script a fake
// target; the subsystem is agnostic.
type Driver interface {
	// Login authenticates the session. Called once at agent start and again
	// after an authentication fault forces a session restart.
	Login(ctx context.Context, creds Credentials) error

	// Navigate moves the session to a named target (page, route).
	Navigate(ctx context.Context, target string) error

	// PerformAction executes one interaction and reports what was observed.
	PerformAction(ctx context.Context, action Action) (Outcome, error)

	// ObserveState harvests a fresh world-state snapshot.
	ObserveState(ctx context.Context) (Snapshot, error)

	// IsSessionAlive reports whether the underlying session is still
	// connected with at least one active page. Must not block.
	IsSessionAlive() bool

	// ProbeResponsiveness round-trips a trivial no-op and returns its
	// latency. Callers bound it with a context deadline.
	ProbeResponsiveness(ctx context.Context) (time.Duration, error)

	// Evaluate runs a script inside the session and returns its string
	// result. Used by adversarial probes for client-state inspection.
	Evaluate(ctx context.Context, expression string) (string, error)

	// CaptureScreenshot stores a labeled screenshot and returns its handle.
	CaptureScreenshot(ctx context.Context, label string) (string, error)

	// RequestLog returns up to n of the most recent request/response
	// records, newest last.
	RequestLog(n int) []RequestRecord

	// Close tears the session down.
	Close(ctx context.Context) error
}
