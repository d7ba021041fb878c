// Package steps declares the ordered, idempotent operations a tenant deletion
// run executes, and the executor that runs one of them inside its own
// transaction. Ordering is load-bearing: a table is deleted only after every
// table referencing it, and the requesting user, the tenant row and the
// verification sweep come last.
package steps

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Phase groups steps for reporting. Phases execute in declaration order.
type Phase string

const (
	PhasePre    Phase = "pre"    // blockers, export, backup, notifications
	PhaseCache  Phase = "cache"  // best-effort session and cache purge
	PhaseLeaf   Phase = "leaf"   // tables with no dependents
	PhaseMid    Phase = "mid"    // messages, documents, surveys, shifts, ...
	PhaseFKNull Phase = "fknull" // null nullable references before users go
	PhaseCore   Phase = "core"   // teams, departments, users, tenant row
	PhasePost   Phase = "post"   // subdomain, temp files, object storage, verify
)

// phaseOrder fixes the relative order of phases for registry validation.
var phaseOrder = map[Phase]int{
	PhasePre:    0,
	PhaseCache:  1,
	PhaseLeaf:   2,
	PhaseMid:    3,
	PhaseFKNull: 4,
	PhaseCore:   5,
	PhasePost:   6,
}

// Handler performs one deletion or verification operation. It must be safe to
// re-run (retries replay the whole sequence) and must only touch rows scoped
// by the tenant id through an explicit WHERE clause. The returned count is the
// number of affected records.
type Handler func(ctx context.Context, tx pgx.Tx, tenantID, queueID uuid.UUID) (int64, error)

// Step is one named entry in the deletion sequence.
type Step struct {
	Name        string
	Description string
	Phase       Phase
	// Critical steps abort the whole run on failure and restore the tenant to
	// active; non-critical failures are logged and the run continues.
	Critical bool
	Handler  Handler
}
