// Package memory keeps exported plans in process. The worker uses it when
// no spreadsheet is configured so the export path still runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"payup/internal/core"
	"payup/internal/sheets"
)

var _ sheets.PlanExporter = (*Exporter)(nil)

type Export struct {
	Group   core.Group
	Summary core.Summary
}

type Exporter struct {
	mu      sync.Mutex
	exports []Export
	latest  map[string]int
}

func New() *Exporter {
	return &Exporter{latest: make(map[string]int)}
}

// ExportPlan records the plan and returns a synthetic reference.
func (e *Exporter) ExportPlan(_ context.Context, g core.Group, s core.Summary) (string, error) {
	s.Balances = s.Balances.Clone()
	s.Transfers = slices.Clone(s.Transfers)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports = append(e.exports, Export{Group: g, Summary: s})
	e.latest[g.Key] = len(e.exports) - 1
	return fmt.Sprintf("mem:%s:%d", g.Key, len(e.exports)), nil
}

// Latest returns the most recent export for a group.
func (e *Exporter) Latest(key string) (Export, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.latest[key]
	if !ok {
		return Export{}, false
	}
	return e.exports[i], true
}

// Count returns how many exports were made.
func (e *Exporter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.exports)
}
