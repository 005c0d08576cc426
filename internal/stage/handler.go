// Package stage defines the contract the pipeline driver needs from each
// processing stage.
package stage

import (
	"context"

	"stereopipe/internal/journal"
)

// Handler describes one pipeline stage. Prepare validates preconditions and
// may annotate the run; Execute performs the work; HealthCheck reports
// readiness without side effects.
type Handler interface {
	Prepare(context.Context, *journal.Run) error
	Execute(context.Context, *journal.Run) error
	HealthCheck(context.Context) Health
}
