// Package postgres implements store.GroupStore on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"payup/internal/core"
	"payup/internal/store"
)

const uniqueViolation = "23505"

type DB struct {
	pool *pgxpool.Pool
}

var _ store.GroupStore = (*DB)(nil)

// New connects, pings and brings the schema up to date.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS expense_groups (
			group_key  TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			policy     TEXT NOT NULL CHECK (policy IN ('payer_included', 'payer_excluded')),
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS group_members (
			group_key      TEXT NOT NULL REFERENCES expense_groups(group_key) ON DELETE CASCADE,
			participant_id TEXT NOT NULL,
			ordinal        INTEGER NOT NULL,
			PRIMARY KEY (group_key, participant_id)
		);
		CREATE TABLE IF NOT EXISTS expenses (
			seq          BIGSERIAL PRIMARY KEY,
			group_key    TEXT NOT NULL REFERENCES expense_groups(group_key) ON DELETE CASCADE,
			id           TEXT NOT NULL DEFAULT '',
			payer        TEXT NOT NULL,
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			split        TEXT NOT NULL DEFAULT 'equal',
			description  TEXT NOT NULL DEFAULT '',
			occurred_at  TIMESTAMPTZ NOT NULL,
			settlement   BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_expenses_group_id ON expenses(group_key, id) WHERE id <> '';
		CREATE INDEX IF NOT EXISTS idx_expenses_group_time ON expenses(group_key, occurred_at, id);
		CREATE TABLE IF NOT EXISTS expense_shares (
			expense_seq    BIGINT NOT NULL REFERENCES expenses(seq) ON DELETE CASCADE,
			participant_id TEXT NOT NULL,
			portion        BIGINT,
			ordinal        INTEGER NOT NULL,
			PRIMARY KEY (expense_seq, participant_id)
		);
		CREATE TABLE IF NOT EXISTS plan_snapshots (
			group_key   TEXT PRIMARY KEY REFERENCES expense_groups(group_key) ON DELETE CASCADE,
			records     INTEGER NOT NULL,
			total_cents BIGINT NOT NULL,
			balances    JSONB NOT NULL,
			transfers   JSONB NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (db *DB) CreateGroup(ctx context.Context, g core.Group) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO expense_groups (group_key, name, policy, created_by, created_at)
         VALUES ($1, $2, $3, $4, $5)`,
		g.Key, g.Name, string(g.Policy), string(g.CreatedBy), g.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("group %s: %w", g.Key, store.ErrConflict)
		}
		return fmt.Errorf("create group: %w", err)
	}
	for _, m := range g.Members {
		if _, err := insertMember(ctx, tx, g.Key, m); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (db *DB) AddMember(ctx context.Context, key string, id core.ParticipantID) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockGroup(ctx, tx, key); err != nil {
		return false, err
	}
	n, err := insertMember(ctx, tx, key, id)
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *DB) GetGroup(ctx context.Context, key string) (core.Group, error) {
	var (
		g                 core.Group
		policy, createdBy string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT group_key, name, policy, created_by, created_at FROM expense_groups WHERE group_key = $1`, key,
	).Scan(&g.Key, &g.Name, &policy, &createdBy, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Group{}, fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	g.Policy = core.SplitPolicy(policy)
	g.CreatedBy = core.ParticipantID(createdBy)
	g.CreatedAt = g.CreatedAt.UTC()

	rows, err := db.pool.Query(ctx,
		`SELECT participant_id FROM group_members WHERE group_key = $1 ORDER BY ordinal`, key)
	if err != nil {
		return core.Group{}, fmt.Errorf("list members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return core.Group{}, fmt.Errorf("list members: %w", err)
	}
	g.Members = make([]core.ParticipantID, len(members))
	for i, m := range members {
		g.Members[i] = core.ParticipantID(m)
	}
	return g, nil
}

func (db *DB) ListGroupKeys(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT group_key FROM expense_groups ORDER BY group_key`)
	if err != nil {
		return nil, fmt.Errorf("list group keys: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AppendExpense inserts the record and its sharers in one transaction.
func (db *DB) AppendExpense(ctx context.Context, key string, rec core.ExpenseRecord) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockGroup(ctx, tx, key); err != nil {
		return err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO expenses (group_key, id, payer, amount_cents, split, description, occurred_at, settlement)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING seq`,
		key, rec.ID, string(rec.Payer), rec.Amount.Cents, string(rec.Split.Normalize()), rec.Description, rec.Timestamp, rec.Settlement,
	).Scan(&seq); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("expense %s: %w", rec.ID, store.ErrConflict)
		}
		return fmt.Errorf("create expense: %w", err)
	}

	seen := make(map[core.ParticipantID]struct{}, len(rec.Beneficiaries))
	for _, id := range rec.Beneficiaries {
		if _, dup := seen[id]; dup {
			continue
		}
		var portion *int64
		if v, ok := rec.Portions[id]; ok {
			portion = &v
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO expense_shares (expense_seq, participant_id, portion, ordinal) VALUES ($1, $2, $3, $4)`,
			seq, string(id), portion, len(seen),
		); err != nil {
			return fmt.Errorf("create expense share: %w", err)
		}
		seen[id] = struct{}{}
	}
	return tx.Commit(ctx)
}

func (db *DB) ListExpenses(ctx context.Context, key string) ([]core.ExpenseRecord, error) {
	if err := db.groupExists(ctx, key); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT e.seq, e.id, e.payer, e.amount_cents, e.split, e.description, e.occurred_at, e.settlement,
                s.participant_id, s.portion
         FROM expenses e LEFT JOIN expense_shares s ON s.expense_seq = e.seq
         WHERE e.group_key = $1
         ORDER BY e.occurred_at, e.id, e.seq, s.ordinal`, key)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var (
		out     []core.ExpenseRecord
		lastSeq int64 = -1
	)
	for rows.Next() {
		var (
			seq                    int64
			id, payer, split, desc string
			amount                 int64
			occurred               time.Time
			settlement             bool
			participant            *string
			portion                *int64
		)
		if err := rows.Scan(&seq, &id, &payer, &amount, &split, &desc, &occurred, &settlement, &participant, &portion); err != nil {
			return nil, err
		}
		if seq != lastSeq {
			out = append(out, core.ExpenseRecord{
				ID:          id,
				Payer:       core.ParticipantID(payer),
				Amount:      core.Money{Cents: amount},
				Split:       core.SplitMethod(split),
				Description: desc,
				Timestamp:   occurred.UTC(),
				Settlement:  settlement,
			})
			lastSeq = seq
		}
		if participant == nil {
			continue
		}
		rec := &out[len(out)-1]
		pid := core.ParticipantID(*participant)
		rec.Beneficiaries = append(rec.Beneficiaries, pid)
		if portion != nil {
			if rec.Portions == nil {
				rec.Portions = make(map[core.ParticipantID]int64)
			}
			rec.Portions[pid] = *portion
		}
	}
	return out, rows.Err()
}

type snapshotTransfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount_cents"`
}

func (db *DB) SavePlan(ctx context.Context, s core.Summary) error {
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
		return fmt.Errorf("encode balances: %w", err)
	}
	tj, err := json.Marshal(transfers)
	if err != nil {
		return fmt.Errorf("encode transfers: %w", err)
	}

	if err := db.groupExists(ctx, s.GroupKey); err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO plan_snapshots (group_key, records, total_cents, balances, transfers, computed_at)
         VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
         ON CONFLICT (group_key) DO UPDATE SET
             records = EXCLUDED.records,
             total_cents = EXCLUDED.total_cents,
             balances = EXCLUDED.balances,
             transfers = EXCLUDED.transfers,
             computed_at = EXCLUDED.computed_at`,
		s.GroupKey, s.Records, s.TotalSpent.Cents, string(bj), string(tj), s.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (db *DB) LatestPlan(ctx context.Context, key string) (core.Summary, error) {
	var (
		s      core.Summary
		bj, tj []byte
		total  int64
	)
	err := db.pool.QueryRow(ctx,
		`SELECT group_key, records, total_cents, balances, transfers, computed_at
         FROM plan_snapshots WHERE group_key = $1`, key,
	).Scan(&s.GroupKey, &s.Records, &total, &bj, &tj, &s.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Summary{}, fmt.Errorf("plan for %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return core.Summary{}, fmt.Errorf("get plan: %w", err)
	}
	s.TotalSpent = core.Money{Cents: total}
	s.ComputedAt = s.ComputedAt.UTC()

	var balances map[string]int64
	if err := json.Unmarshal(bj, &balances); err != nil {
		return core.Summary{}, fmt.Errorf("decode balances: %w", err)
	}
	var transfers []snapshotTransfer
	if err := json.Unmarshal(tj, &transfers); err != nil {
		return core.Summary{}, fmt.Errorf("decode transfers: %w", err)
	}
	s.Balances = make(core.BalanceMap, len(balances))
	for k, v := range balances {
		s.Balances[core.ParticipantID(k)] = v
	}
	s.Transfers = make([]core.Transfer, len(transfers))
	for i, t := range transfers {
		s.Transfers[i] = core.Transfer{From: core.ParticipantID(t.From), To: core.ParticipantID(t.To), Amount: t.Amount}
	}
	return s, nil
}

func (db *DB) groupExists(ctx context.Context, key string) error {
	var ok bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM expense_groups WHERE group_key = $1)`, key,
	).Scan(&ok); err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if !ok {
		return fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	return nil
}

// lockGroup takes a row lock on the group so roster ordinals and expense
// inserts for the same group are serialised.
func lockGroup(ctx context.Context, tx pgx.Tx, key string) error {
	var found string
	err := tx.QueryRow(ctx, `SELECT group_key FROM expense_groups WHERE group_key = $1 FOR UPDATE`, key).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("group %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock group: %w", err)
	}
	return nil
}

func insertMember(ctx context.Context, tx pgx.Tx, key string, id core.ParticipantID) (int64, error) {
	ct, err := tx.Exec(ctx,
		`INSERT INTO group_members (group_key, participant_id, ordinal)
         VALUES ($1, $2, (SELECT COUNT(*) FROM group_members WHERE group_key = $1))
         ON CONFLICT (group_key, participant_id) DO NOTHING`,
		key, string(id),
	)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
