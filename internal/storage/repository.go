package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"payup/internal/core"
	"payup/internal/store"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ store.GroupStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the main pool opens the file.
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) error {
	return r.inTx(ctx, func(q *Queries) error {
		if _, err := q.GetGroup(ctx, g.Key); err == nil {
			return fmt.Errorf("group %s: %w", g.Key, store.ErrConflict)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get group: %w", err)
		}
		if err := q.CreateGroup(ctx, GroupRow{
			GroupKey:  g.Key,
			Name:      g.Name,
			Policy:    string(g.Policy),
			CreatedBy: string(g.CreatedBy),
			CreatedAt: g.CreatedAt.UnixMicro(),
		}); err != nil {
			return fmt.Errorf("create group: %w", mapConstraint(err))
		}
		for _, m := range g.Members {
			if _, err := q.InsertMember(ctx, g.Key, string(m)); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
		slog.InfoContext(ctx, "Group saved to SQLite", "group_key", g.Key, "members", len(g.Members))
		return nil
	})
}

func (r *SQLiteRepository) AddMember(ctx context.Context, key string, id core.ParticipantID) (bool, error) {
	var added bool
	err := r.inTx(ctx, func(q *Queries) error {
		if err := groupExists(ctx, q, key); err != nil {
			return err
		}
		n, err := q.InsertMember(ctx, key, string(id))
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		added = n > 0
		return nil
	})
	return added, err
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, key string) (core.Group, error) {
	row, err := r.queries.GetGroup(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	members, err := r.queries.ListMembers(ctx, key)
	if err != nil {
		return core.Group{}, fmt.Errorf("list members: %w", err)
	}
	return core.Group{
		Key:       row.GroupKey,
		Name:      row.Name,
		Policy:    core.SplitPolicy(row.Policy),
		Members:   toParticipants(members),
		CreatedBy: core.ParticipantID(row.CreatedBy),
		CreatedAt: time.UnixMicro(row.CreatedAt).UTC(),
	}, nil
}

func (r *SQLiteRepository) ListGroupKeys(ctx context.Context) ([]string, error) {
	keys, err := r.queries.ListGroupKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list group keys: %w", err)
	}
	return keys, nil
}

// AppendExpense stores the record with its sharers in one transaction.
func (r *SQLiteRepository) AppendExpense(ctx context.Context, key string, rec core.ExpenseRecord) error {
	return r.inTx(ctx, func(q *Queries) error {
		if err := groupExists(ctx, q, key); err != nil {
			return err
		}
		if rec.ID != "" {
			dup, err := q.ExpenseExists(ctx, key, rec.ID)
			if err != nil {
				return fmt.Errorf("check expense: %w", err)
			}
			if dup {
				return fmt.Errorf("expense %s: %w", rec.ID, store.ErrConflict)
			}
		}

		seq, err := q.InsertExpense(ctx, key, ExpenseRow{
			ID:          rec.ID,
			Payer:       string(rec.Payer),
			AmountCents: rec.Amount.Cents,
			Split:       string(rec.Split.Normalize()),
			Description: rec.Description,
			OccurredAt:  rec.Timestamp.UnixMicro(),
			Settlement:  rec.Settlement,
		})
		if err != nil {
			return fmt.Errorf("create expense: %w", mapConstraint(err))
		}

		for i, id := range dedupe(rec.Beneficiaries) {
			share := ShareRow{ExpenseSeq: seq, ParticipantID: string(id)}
			if v, ok := rec.Portions[id]; ok {
				share.Portion = sql.NullInt64{Int64: v, Valid: true}
			}
			if err := q.InsertShare(ctx, share, i); err != nil {
				return fmt.Errorf("create expense share: %w", err)
			}
		}

		slog.InfoContext(ctx, "Expense saved to SQLite",
			"group_key", key,
			"expense_id", rec.ID,
			"amount_cents", rec.Amount.Cents,
			"settlement", rec.Settlement)
		return nil
	})
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, key string) ([]core.ExpenseRecord, error) {
	if err := groupExists(ctx, r.queries, key); err != nil {
		return nil, err
	}
	rows, err := r.queries.ListExpenses(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	shares, err := r.queries.ListShares(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list expense shares: %w", err)
	}
	return assembleRecords(rows, shares), nil
}

func (r *SQLiteRepository) SavePlan(ctx context.Context, s core.Summary) error {
	row, err := planRow(s)
	if err != nil {
		return err
	}
	return r.inTx(ctx, func(q *Queries) error {
		if err := groupExists(ctx, q, s.GroupKey); err != nil {
			return err
		}
		if err := q.UpsertPlan(ctx, row); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) LatestPlan(ctx context.Context, key string) (core.Summary, error) {
	row, err := r.queries.GetPlan(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Summary{}, fmt.Errorf("plan for %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return core.Summary{}, fmt.Errorf("get plan: %w", err)
	}
	return summaryFromRow(row)
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func groupExists(ctx context.Context, q *Queries, key string) error {
	_, err := q.GetGroup(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	return nil
}

// mapConstraint turns unique violations raised by a concurrent writer into
// store.ErrConflict.
func mapConstraint(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

// assembleRecords joins expense rows with their share rows. Both inputs are
// ordered; shares are grouped by expense sequence.
func assembleRecords(rows []ExpenseRow, shares []ShareRow) []core.ExpenseRecord {
	bySeq := make(map[int64][]ShareRow, len(rows))
	for _, s := range shares {
		bySeq[s.ExpenseSeq] = append(bySeq[s.ExpenseSeq], s)
	}
	out := make([]core.ExpenseRecord, 0, len(rows))
	for _, e := range rows {
		rec := core.ExpenseRecord{
			ID:          e.ID,
			Payer:       core.ParticipantID(e.Payer),
			Amount:      core.Money{Cents: e.AmountCents},
			Split:       core.SplitMethod(e.Split),
			Description: e.Description,
			Timestamp:   time.UnixMicro(e.OccurredAt).UTC(),
			Settlement:  e.Settlement,
		}
		for _, s := range bySeq[e.Seq] {
			id := core.ParticipantID(s.ParticipantID)
			rec.Beneficiaries = append(rec.Beneficiaries, id)
			if s.Portion.Valid {
				if rec.Portions == nil {
					rec.Portions = make(map[core.ParticipantID]int64)
				}
				rec.Portions[id] = s.Portion.Int64
			}
		}
		out = append(out, rec)
	}
	return out
}

type snapshotTransfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount_cents"`
}

func planRow(s core.Summary) (PlanRow, error) {
	balances := make(map[string]int64, len(s.Balances))
	for k, v := range s.Balances {
		balances[string(k)] = v
	}
	transfers := make([]snapshotTransfer, len(s.Transfers))
	for i, t := range s.Transfers {
		transfers[i] = snapshotTransfer{From: string(t.From), To: string(t.To), Amount: t.Amount}
	}
	bj, err := json.Marshal(balances)
	if err != nil {
		return PlanRow{}, fmt.Errorf("encode balances: %w", err)
	}
	tj, err := json.Marshal(transfers)
	if err != nil {
		return PlanRow{}, fmt.Errorf("encode transfers: %w", err)
	}
	return PlanRow{
		GroupKey:      s.GroupKey,
		Records:       int64(s.Records),
		TotalCents:    s.TotalSpent.Cents,
		BalancesJSON:  string(bj),
		TransfersJSON: string(tj),
		ComputedAt:    s.ComputedAt.UnixMicro(),
	}, nil
}

func summaryFromRow(row PlanRow) (core.Summary, error) {
	var balances map[string]int64
	if err := json.Unmarshal([]byte(row.BalancesJSON), &balances); err != nil {
		return core.Summary{}, fmt.Errorf("decode balances: %w", err)
	}
	var transfers []snapshotTransfer
	if err := json.Unmarshal([]byte(row.TransfersJSON), &transfers); err != nil {
		return core.Summary{}, fmt.Errorf("decode transfers: %w", err)
	}
	s := core.Summary{
		GroupKey:   row.GroupKey,
		Records:    int(row.Records),
		TotalSpent: core.Money{Cents: row.TotalCents},
		Balances:   make(core.BalanceMap, len(balances)),
		Transfers:  make([]core.Transfer, len(transfers)),
		ComputedAt: time.UnixMicro(row.ComputedAt).UTC(),
	}
	for k, v := range balances {
		s.Balances[core.ParticipantID(k)] = v
	}
	for i, t := range transfers {
		s.Transfers[i] = core.Transfer{From: core.ParticipantID(t.From), To: core.ParticipantID(t.To), Amount: t.Amount}
	}
	return s, nil
}

func toParticipants(ids []string) []core.ParticipantID {
	out := make([]core.ParticipantID, len(ids))
	for i, id := range ids {
		out[i] = core.ParticipantID(id)
	}
	return out
}

// dedupe drops repeated IDs, keeping first-occurrence order.
func dedupe(ids []core.ParticipantID) []core.ParticipantID {
	seen := make(map[core.ParticipantID]struct{}, len(ids))
	out := make([]core.ParticipantID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
