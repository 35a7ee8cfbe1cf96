// Package sqlite persists committed kernel state in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/airswap/airswap-protocols-sub002/state"
	"github.com/airswap/airswap-protocols-sub002/storage/sqlite/migrations"
)

const migrationTable = "schema_migrations"

var _ state.Persister = (*Store)(nil)

// Store is a state.Persister backed by a SQLite file.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite state store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Persist applies changes in one transaction, in order.
func (s *Store) Persist(ctx context.Context, changes []state.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	for _, c := range changes {
		if err := applyChange(ctx, tx, c); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, c state.Change) error {
	var err error
	switch c.Kind {
	case state.ChangeNonceUsed:
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO used_nonces (signer, nonce) VALUES (?, ?)`,
			c.Wallet.Hex(), formatUint(c.Nonce))
	case state.ChangeMinimumNonce:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO minimum_nonces (signer, minimum) VALUES (?, ?)
			 ON CONFLICT(signer) DO UPDATE SET minimum = excluded.minimum`,
			c.Wallet.Hex(), formatUint(c.Nonce))
	case state.ChangeDelegate:
		if c.Delegate == (common.Address{}) {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM delegates WHERE role = ? AND wallet = ?`,
				c.Role.String(), c.Wallet.Hex())
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO delegates (role, wallet, delegate) VALUES (?, ?, ?)
				 ON CONFLICT(role, wallet) DO UPDATE SET delegate = excluded.delegate`,
				c.Role.String(), c.Wallet.Hex(), c.Delegate.Hex())
		}
	case state.ChangeFeeConfig:
		light, merr := json.Marshal(c.Fee.LightBps)
		if merr != nil {
			return fmt.Errorf("encode light fee tiers: %w", merr)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO fee_config (id, bps, light_bps, wallet) VALUES (1, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET bps = excluded.bps, light_bps = excluded.light_bps, wallet = excluded.wallet`,
			formatUint(c.Fee.Bps), string(light), c.Fee.Wallet.Hex())
	case state.ChangeOwner:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO owner (id, address) VALUES (1, ?)
			 ON CONFLICT(id) DO UPDATE SET address = excluded.address`,
			c.Wallet.Hex())
	default:
		return fmt.Errorf("unknown change kind %d", c.Kind)
	}
	if err != nil {
		return fmt.Errorf("persist change %d: %w", c.Kind, err)
	}
	return nil
}

// Load reads the full durable state.
func (s *Store) Load(ctx context.Context) (*state.Dump, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	dump := &state.Dump{
		UsedNonces:    make(map[common.Address][]uint64),
		MinimumNonces: make(map[common.Address]uint64),
		Delegates:     make(map[state.Role]map[common.Address]common.Address),
	}
	if err := s.loadNonces(ctx, dump); err != nil {
		return nil, err
	}
	if err := s.loadMinimums(ctx, dump); err != nil {
		return nil, err
	}
	if err := s.loadDelegates(ctx, dump); err != nil {
		return nil, err
	}
	if err := s.loadFee(ctx, dump); err != nil {
		return nil, err
	}
	if err := s.loadOwner(ctx, dump); err != nil {
		return nil, err
	}
	return dump, nil
}

func (s *Store) loadNonces(ctx context.Context, dump *state.Dump) error {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT signer, nonce FROM used_nonces`)
	if err != nil {
		return fmt.Errorf("load used nonces: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var signer, raw string
		if err := rows.Scan(&signer, &raw); err != nil {
			return fmt.Errorf("scan used nonce: %w", err)
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse used nonce %q: %w", raw, err)
		}
		addr := common.HexToAddress(signer)
		dump.UsedNonces[addr] = append(dump.UsedNonces[addr], n)
	}
	return rows.Err()
}

func (s *Store) loadMinimums(ctx context.Context, dump *state.Dump) error {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT signer, minimum FROM minimum_nonces`)
	if err != nil {
		return fmt.Errorf("load minimum nonces: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var signer, raw string
		if err := rows.Scan(&signer, &raw); err != nil {
			return fmt.Errorf("scan minimum nonce: %w", err)
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse minimum nonce %q: %w", raw, err)
		}
		dump.MinimumNonces[common.HexToAddress(signer)] = n
	}
	return rows.Err()
}

func (s *Store) loadDelegates(ctx context.Context, dump *state.Dump) error {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT role, wallet, delegate FROM delegates`)
	if err != nil {
		return fmt.Errorf("load delegates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rawRole, wallet, delegate string
		if err := rows.Scan(&rawRole, &wallet, &delegate); err != nil {
			return fmt.Errorf("scan delegate: %w", err)
		}
		role, err := state.ParseRole(rawRole)
		if err != nil {
			return err
		}
		if dump.Delegates[role] == nil {
			dump.Delegates[role] = make(map[common.Address]common.Address)
		}
		dump.Delegates[role][common.HexToAddress(wallet)] = common.HexToAddress(delegate)
	}
	return rows.Err()
}

func (s *Store) loadFee(ctx context.Context, dump *state.Dump) error {
	var rawBps, rawLight, wallet string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT bps, light_bps, wallet FROM fee_config WHERE id = 1`,
	).Scan(&rawBps, &rawLight, &wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load fee config: %w", err)
	}
	bps, err := strconv.ParseUint(rawBps, 10, 64)
	if err != nil {
		return fmt.Errorf("parse fee bps %q: %w", rawBps, err)
	}
	var light []uint64
	if err := json.Unmarshal([]byte(rawLight), &light); err != nil {
		return fmt.Errorf("decode light fee tiers: %w", err)
	}
	dump.Fee = &state.FeeConfig{Bps: bps, LightBps: light, Wallet: common.HexToAddress(wallet)}
	return nil
}

func (s *Store) loadOwner(ctx context.Context, dump *state.Dump) error {
	var address string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT address FROM owner WHERE id = 1`).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	owner := common.HexToAddress(address)
	dump.Owner = &owner
	return nil
}

// nonces exceed int64, so they are stored as decimal text
func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// applyMigrations executes each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL in the -- +migrate Up section.
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, down)
	if downIdx == -1 {
		return content[upIdx+len(up):]
	}
	return content[upIdx+len(up) : downIdx]
}
