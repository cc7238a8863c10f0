// Package store defines the persistence ports for groups, their expense
// records and computed settlement plans.
package store

import (
	"context"
	"errors"
	"sort"

	"payup/internal/core"
)

var (
	// ErrNotFound is returned when a group or snapshot does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a group key or expense ID is already taken.
	ErrConflict = errors.New("already exists")
)

// Ports for persistence adapters.
type (
	GroupWriter interface {
		CreateGroup(ctx context.Context, g core.Group) error
		// AddMember appends id to the roster. It reports false when the
		// participant was already a member.
		AddMember(ctx context.Context, key string, id core.ParticipantID) (added bool, err error)
	}

	GroupReader interface {
		GetGroup(ctx context.Context, key string) (core.Group, error)
		ListGroupKeys(ctx context.Context) ([]string, error)
	}

	// ExpenseWriter appends immutable records. Records are never updated
	// or deleted.
	ExpenseWriter interface {
		AppendExpense(ctx context.Context, key string, rec core.ExpenseRecord) error
	}

	// ExpenseLister returns a group's records ordered by timestamp, then ID.
	ExpenseLister interface {
		ListExpenses(ctx context.Context, key string) ([]core.ExpenseRecord, error)
	}

	// PlanStore keeps the last computed summary per group.
	PlanStore interface {
		SavePlan(ctx context.Context, s core.Summary) error
		LatestPlan(ctx context.Context, key string) (core.Summary, error)
	}

	GroupStore interface {
		GroupWriter
		GroupReader
		ExpenseWriter
		ExpenseLister
		PlanStore
		Close() error
	}
)

// SortRecords orders records by timestamp, then ID, in place.
func SortRecords(recs []core.ExpenseRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return recs[i].ID < recs[j].ID
	})
}

// CloneRecord returns a copy that shares no slices or maps with rec.
func CloneRecord(rec core.ExpenseRecord) core.ExpenseRecord {
	rec.Beneficiaries = append([]core.ParticipantID(nil), rec.Beneficiaries...)
	if rec.Portions != nil {
		portions := make(map[core.ParticipantID]int64, len(rec.Portions))
		for k, v := range rec.Portions {
			portions[k] = v
		}
		rec.Portions = portions
	}
	return rec
}
