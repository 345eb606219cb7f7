package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/xchange/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - devices, orders, accounts, events
// 2 - index on orders(client) for client-side lookups
const currentSchemaVersion = 2

// SQLite is the durable Backend. One database file holds one domain.
type SQLite struct {
	db *sql.DB
}

var _ Backend = (*SQLite)(nil)

// Open creates or opens a SQLite database at path and applies pragmas and
// migrations. Safe to call on an existing database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client)`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// Update runs fn in a read-write transaction.
func (s *SQLite) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op after commit

	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *SQLite) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	return fn(&sqlTx{ctx: ctx, tx: tx})
}

// Events returns events with seq > since, ordered by seq.
func (s *SQLite) Events(ctx context.Context, since int64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, device, client, peer, token, detail
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var kind, device, client, peer string
		if err := rows.Scan(&ev.Seq, &kind, &device, &client, &peer, &ev.Token, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Device = model.AccountID(device)
		ev.Client = model.AccountID(client)
		ev.Peer = model.DomainID(peer)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest event seq.
func (s *SQLite) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// sqlTx implements Tx over a database/sql transaction.
//
// uint64 values are stored as their int64 bit pattern because the driver
// rejects uint64 values with the high bit set.
type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlTx) Device(account model.AccountID) (model.DeviceProfile, bool, error) {
	var (
		p                     model.DeviceProfile
		penalty, workDuration int64
		home, state           string
	)
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT penalty, work_duration, home_domain, state FROM devices WHERE account = ?
	`, string(account)).Scan(&penalty, &workDuration, &home, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeviceProfile{}, false, nil
	}
	if err != nil {
		return model.DeviceProfile{}, false, fmt.Errorf("read device %s: %w", account, err)
	}
	st, err := model.ParseDeviceState(state)
	if err != nil {
		return model.DeviceProfile{}, false, fmt.Errorf("read device %s: %w", account, err)
	}
	p.Penalty = uint64(penalty)
	p.WorkDuration = uint64(workDuration)
	p.HomeDomain = model.DomainID(home)
	p.State = st
	return p, true, nil
}

func (t *sqlTx) PutDevice(account model.AccountID, p model.DeviceProfile) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO devices (account, penalty, work_duration, home_domain, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			penalty = excluded.penalty,
			work_duration = excluded.work_duration,
			home_domain = excluded.home_domain,
			state = excluded.state
	`, string(account), int64(p.Penalty), int64(p.WorkDuration), string(p.HomeDomain), p.State.String())
	if err != nil {
		return fmt.Errorf("write device %s: %w", account, err)
	}
	return nil
}

func (t *sqlTx) DeleteDevice(account model.AccountID) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM devices WHERE account = ?`, string(account)); err != nil {
		return fmt.Errorf("delete device %s: %w", account, err)
	}
	return nil
}

func (t *sqlTx) Order(device model.AccountID) (model.Order, bool, error) {
	var (
		o              model.Order
		deadline, fee  int64
		client, cliDom string
	)
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT deadline, payload, fee, client, client_domain FROM orders WHERE device = ?
	`, string(device)).Scan(&deadline, &o.Payload, &fee, &client, &cliDom)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, fmt.Errorf("read order %s: %w", device, err)
	}
	o.Deadline = uint64(deadline)
	o.Fee = uint64(fee)
	o.Client = model.AccountID(client)
	o.ClientDomain = model.DomainID(cliDom)
	if len(o.Payload) == 0 {
		o.Payload = nil
	}
	return o, true, nil
}

func (t *sqlTx) PutOrder(device model.AccountID, o model.Order) error {
	payload := o.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO orders (device, deadline, payload, fee, client, client_domain)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device) DO UPDATE SET
			deadline = excluded.deadline,
			payload = excluded.payload,
			fee = excluded.fee,
			client = excluded.client,
			client_domain = excluded.client_domain
	`, string(device), int64(o.Deadline), payload, int64(o.Fee), string(o.Client), string(o.ClientDomain))
	if err != nil {
		return fmt.Errorf("write order %s: %w", device, err)
	}
	return nil
}

func (t *sqlTx) DeleteOrder(device model.AccountID) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM orders WHERE device = ?`, string(device)); err != nil {
		return fmt.Errorf("delete order %s: %w", device, err)
	}
	return nil
}

func (t *sqlTx) Balance(account model.AccountID) (model.Balance, error) {
	var free, reserved int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT free, reserved FROM accounts WHERE account = ?
	`, string(account)).Scan(&free, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Balance{}, nil
	}
	if err != nil {
		return model.Balance{}, fmt.Errorf("read balance %s: %w", account, err)
	}
	return model.Balance{Free: uint64(free), Reserved: uint64(reserved)}, nil
}

func (t *sqlTx) putBalance(account model.AccountID, b model.Balance) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO accounts (account, free, reserved) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET free = excluded.free, reserved = excluded.reserved
	`, string(account), int64(b.Free), int64(b.Reserved))
	if err != nil {
		return fmt.Errorf("write balance %s: %w", account, err)
	}
	return nil
}

func (t *sqlTx) apply(account model.AccountID, op func(model.Balance) (model.Balance, error)) error {
	b, err := t.Balance(account)
	if err != nil {
		return err
	}
	next, err := op(b)
	if err != nil {
		return fmt.Errorf("%s: %w", account, err)
	}
	return t.putBalance(account, next)
}

func (t *sqlTx) CanReserve(account model.AccountID, amount model.Amount) (bool, error) {
	b, err := t.Balance(account)
	if err != nil {
		return false, err
	}
	return b.Free >= amount, nil
}

func (t *sqlTx) Reserve(account model.AccountID, amount model.Amount) error {
	return t.apply(account, func(b model.Balance) (model.Balance, error) { return reserve(b, amount) })
}

func (t *sqlTx) Unreserve(account model.AccountID, amount model.Amount) error {
	return t.apply(account, func(b model.Balance) (model.Balance, error) { return unreserve(b, amount) })
}

func (t *sqlTx) TransferReserved(from, to model.AccountID, amount model.Amount) error {
	if from == to {
		return t.Unreserve(from, amount)
	}
	if err := t.apply(from, func(b model.Balance) (model.Balance, error) { return debitReserved(b, amount) }); err != nil {
		return err
	}
	return t.apply(to, func(b model.Balance) (model.Balance, error) { return credit(b, amount) })
}

func (t *sqlTx) Deposit(account model.AccountID, amount model.Amount) error {
	return t.apply(account, func(b model.Balance) (model.Balance, error) { return credit(b, amount) })
}

func (t *sqlTx) AppendEvent(ev model.Event) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO events (seq, kind, device, client, peer, token, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Seq, string(ev.Kind), string(ev.Device), string(ev.Client), string(ev.Peer), ev.Token, ev.Detail)
	if err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	return nil
}
