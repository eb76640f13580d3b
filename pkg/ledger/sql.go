package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Dialect captures the differences between the supported SQL backends.
// Queries are written with ? placeholders and rebound for numbered dialects.
type Dialect struct {
	Name     string
	numbered bool
	lockRows string
	blobType string
}

var (
	// Postgres is served by github.com/lib/pq.
	Postgres = Dialect{Name: "postgres", numbered: true, lockRows: " FOR UPDATE", blobType: "BYTEA"}
	// SQLite is served by modernc.org/sqlite. Write transactions must be
	// opened with _txlock=immediate so that they serialize on BEGIN.
	SQLite = Dialect{Name: "sqlite", blobType: "BLOB"}
)

// Rebind rewrites ? placeholders to $1..$n for numbered dialects.
func (d Dialect) Rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Schema returns the DDL statements for d.
func (d Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS vault_actions (
	lane TEXT NOT NULL,
	id BIGINT NOT NULL,
	target TEXT NOT NULL,
	value TEXT NOT NULL,
	payload ` + d.blobType + `,
	state TEXT NOT NULL,
	confirmations INTEGER NOT NULL,
	proposer TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	eta BIGINT NOT NULL,
	grace_ns BIGINT NOT NULL,
	executed_at BIGINT NOT NULL,
	cancelled_at BIGINT NOT NULL,
	version BIGINT NOT NULL,
	PRIMARY KEY (lane, id)
)`,
		`CREATE INDEX IF NOT EXISTS vault_actions_state ON vault_actions (state)`,
		`CREATE TABLE IF NOT EXISTS vault_confirmations (
	action_id BIGINT NOT NULL,
	owner TEXT NOT NULL,
	confirmed_at BIGINT NOT NULL,
	PRIMARY KEY (action_id, owner)
)`,
		`CREATE INDEX IF NOT EXISTS vault_confirmations_owner ON vault_confirmations (owner)`,
		`CREATE TABLE IF NOT EXISTS vault_sequences (
	lane TEXT PRIMARY KEY,
	next_id BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS vault_settings (
	id INTEGER PRIMARY KEY,
	body TEXT NOT NULL
)`,
	}
}

// SQLStore implements Store using database/sql.
type SQLStore struct {
	db *sql.DB
	d  Dialect
}

// NewSQLStore wraps db. Call Init before first use.
func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range s.d.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: init %s schema: %w", s.d.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx, d: s.d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("ledger: begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{tx: tx, d: s.d, readOnly: true})
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx       *sql.Tx
	d        Dialect
	readOnly bool
}

func (t *sqlTx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	return t.tx.ExecContext(ctx, t.d.Rebind(q), args...)
}

// lock returns the row-lock suffix for reads inside write transactions.
func (t *sqlTx) lock() string {
	if t.readOnly {
		return ""
	}
	return t.d.lockRows
}

const actionColumns = `lane, id, target, value, payload, state, confirmations, proposer, created_at, eta, grace_ns, executed_at, cancelled_at, version`

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (contracts.Action, error) {
	var (
		a                  contracts.Action
		lane, value, state string
		confirmations      int
	)
	var id, created, eta, grace, executed, cancelled, version int64
	if err := row.Scan(&lane, &id, &a.Target, &value, &a.Payload, &state, &confirmations, &a.Proposer,
		&created, &eta, &grace, &executed, &cancelled, &version); err != nil {
		return contracts.Action{}, err
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return contracts.Action{}, fmt.Errorf("ledger: corrupt value %q: %w", value, err)
	}
	if len(a.Payload) == 0 {
		a.Payload = nil
	}
	a.Lane = contracts.Lane(lane)
	a.ID = uint64(id)
	a.Value = v
	a.State = contracts.State(state)
	a.Confirmations = confirmations
	a.CreatedAt = fromUnixNano(created)
	a.ETA = fromUnixNano(eta)
	a.GracePeriod = time.Duration(grace)
	a.ExecutedAt = fromUnixNano(executed)
	a.CancelledAt = fromUnixNano(cancelled)
	a.Version = uint64(version)
	return a, nil
}

func (t *sqlTx) NextID(ctx context.Context, lane contracts.Lane) (uint64, error) {
	if t.readOnly {
		return 0, errReadOnly
	}
	q := `INSERT INTO vault_sequences (lane, next_id) VALUES (?, 1)
ON CONFLICT (lane) DO UPDATE SET next_id = vault_sequences.next_id + 1
RETURNING next_id`
	var next int64
	if err := t.tx.QueryRowContext(ctx, t.d.Rebind(q), string(lane)).Scan(&next); err != nil {
		return 0, fmt.Errorf("ledger: allocate %s id: %w", lane, err)
	}
	return uint64(next), nil
}

func (t *sqlTx) Insert(ctx context.Context, a *contracts.Action) error {
	q := `INSERT INTO vault_actions (` + actionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.exec(ctx, q,
		string(a.Lane), int64(a.ID), a.Target, strconv.FormatUint(a.Value, 10), a.Payload, string(a.State),
		a.Confirmations, a.Proposer, unixNano(a.CreatedAt), unixNano(a.ETA), int64(a.GracePeriod),
		unixNano(a.ExecutedAt), unixNano(a.CancelledAt), int64(1),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert action %s/%d: %w", a.Lane, a.ID, err)
	}
	a.Version = 1
	return nil
}

func (t *sqlTx) Get(ctx context.Context, lane contracts.Lane, id uint64) (contracts.Action, error) {
	q := `SELECT ` + actionColumns + ` FROM vault_actions WHERE lane = ? AND id = ?` + t.lock()
	a, err := scanAction(t.tx.QueryRowContext(ctx, t.d.Rebind(q), string(lane), int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Action{}, fmt.Errorf("%w: action %s/%d", contracts.ErrNotFound, lane, id)
		}
		return contracts.Action{}, fmt.Errorf("ledger: get action %s/%d: %w", lane, id, err)
	}
	return a, nil
}

func (t *sqlTx) Update(ctx context.Context, a *contracts.Action) error {
	q := `UPDATE vault_actions
SET target = ?, value = ?, payload = ?, state = ?, confirmations = ?, proposer = ?,
	created_at = ?, eta = ?, grace_ns = ?, executed_at = ?, cancelled_at = ?, version = ?
WHERE lane = ? AND id = ? AND version = ?`
	res, err := t.exec(ctx, q,
		a.Target, strconv.FormatUint(a.Value, 10), a.Payload, string(a.State), a.Confirmations, a.Proposer,
		unixNano(a.CreatedAt), unixNano(a.ETA), int64(a.GracePeriod), unixNano(a.ExecutedAt), unixNano(a.CancelledAt),
		int64(a.Version+1), string(a.Lane), int64(a.ID), int64(a.Version),
	)
	if err != nil {
		return fmt.Errorf("ledger: update action %s/%d: %w", a.Lane, a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: update action %s/%d: %w", a.Lane, a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: action %s/%d is not at version %d", contracts.ErrConflict, a.Lane, a.ID, a.Version)
	}
	a.Version++
	return nil
}

func (t *sqlTx) List(ctx context.Context, f Filter) ([]contracts.Action, error) {
	var (
		where []string
		args  []any
	)
	if f.Lane != "" {
		where = append(where, "lane = ?")
		args = append(args, string(f.Lane))
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	q := `SELECT ` + actionColumns + ` FROM vault_actions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY lane DESC, id`

	rows, err := t.tx.QueryContext(ctx, t.d.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.Action, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: list actions: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) AddConfirmation(ctx context.Context, id uint64, owner string, at time.Time) error {
	q := `INSERT INTO vault_confirmations (action_id, owner, confirmed_at) VALUES (?, ?, ?)
ON CONFLICT (action_id, owner) DO NOTHING`
	res, err := t.exec(ctx, q, int64(id), owner, unixNano(at))
	if err != nil {
		return fmt.Errorf("ledger: add confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: add confirmation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q on action %d", contracts.ErrAlreadyConfirmed, owner, id)
	}
	return nil
}

func (t *sqlTx) RemoveConfirmation(ctx context.Context, id uint64, owner string) error {
	q := `DELETE FROM vault_confirmations WHERE action_id = ? AND owner = ?`
	res, err := t.exec(ctx, q, int64(id), owner)
	if err != nil {
		return fmt.Errorf("ledger: remove confirmation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: remove confirmation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q on action %d", contracts.ErrNotConfirmed, owner, id)
	}
	return nil
}

func (t *sqlTx) Confirmers(ctx context.Context, id uint64) ([]string, error) {
	q := `SELECT owner FROM vault_confirmations WHERE action_id = ? ORDER BY owner`
	rows, err := t.tx.QueryContext(ctx, t.d.Rebind(q), int64(id))
	if err != nil {
		return nil, fmt.Errorf("ledger: confirmers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0)
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

func (t *sqlTx) ConfirmedBy(ctx context.Context, owner string) ([]uint64, error) {
	q := `SELECT action_id FROM vault_confirmations WHERE owner = ? ORDER BY action_id`
	rows, err := t.tx.QueryContext(ctx, t.d.Rebind(q), owner)
	if err != nil {
		return nil, fmt.Errorf("ledger: confirmed by: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]uint64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

func (t *sqlTx) Settings(ctx context.Context) (Settings, bool, error) {
	q := `SELECT body FROM vault_settings WHERE id = 1` + t.lock()
	var body string
	if err := t.tx.QueryRowContext(ctx, q).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settings{}, false, nil
		}
		return Settings{}, false, fmt.Errorf("ledger: load settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return Settings{}, false, fmt.Errorf("ledger: decode settings: %w", err)
	}
	return s, true, nil
}

func (t *sqlTx) SaveSettings(ctx context.Context, s Settings) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("ledger: encode settings: %w", err)
	}
	q := `INSERT INTO vault_settings (id, body) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET body = excluded.body`
	if _, err := t.exec(ctx, q, string(body)); err != nil {
		return fmt.Errorf("ledger: save settings: %w", err)
	}
	return nil
}
