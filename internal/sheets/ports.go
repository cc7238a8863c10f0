// Package sheets defines where computed settlement plans are published for
// people to read.
package sheets

import (
	"context"

	"payup/internal/core"
)

// PlanExporter writes a group's latest plan somewhere human readable and
// returns a reference to what it wrote.
type PlanExporter interface {
	ExportPlan(ctx context.Context, g core.Group, s core.Summary) (ref string, err error)
}
