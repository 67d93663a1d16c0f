// Package sqlite persists the world state in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/state"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Well-known meta keys.
const (
	MetaIdentity   = "identity"
	MetaController = "controller"
	MetaFunded     = "funded"
)

// Store persists state snapshots. It implements vm.Committer.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and creates missing tables.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
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

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// Commit replaces the persisted state with d in one transaction.
func (s *Store) Commit(ctx context.Context, d *state.Dump) (err error) {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM storage`); err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	insertAccount, err := tx.PrepareContext(ctx, `INSERT INTO accounts (address, balance, nonce, code) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare account insert: %w", err)
	}
	defer insertAccount.Close()
	insertSlot, err := tx.PrepareContext(ctx, `INSERT INTO storage (address, slot, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare storage insert: %w", err)
	}
	defer insertSlot.Close()

	for addr, acc := range d.Accounts {
		key := addr.String()
		if _, err = insertAccount.ExecContext(ctx,
			key,
			strconv.FormatUint(acc.Balance, 10),
			strconv.FormatUint(acc.Nonce, 10),
			acc.Code,
		); err != nil {
			return fmt.Errorf("insert account %s: %w", key, err)
		}
		for slot, value := range acc.Storage {
			if len(value) == 0 {
				continue
			}
			if _, err = insertSlot.ExecContext(ctx, key, slot.String(), value); err != nil {
				return fmt.Errorf("insert slot %s/%s: %w", key, slot, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Load reads the persisted state. An empty database yields an empty dump.
func (s *Store) Load(ctx context.Context) (*state.Dump, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	d := &state.Dump{Accounts: make(map[core.Address]state.DumpAccount)}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT address, balance, nonce, code FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rawAddr, rawBalance, rawNonce string
			code                          []byte
		)
		if err := rows.Scan(&rawAddr, &rawBalance, &rawNonce, &code); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		addr, err := core.HexToAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("account address %q: %w", rawAddr, err)
		}
		balance, err := strconv.ParseUint(rawBalance, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("account %s balance: %w", rawAddr, err)
		}
		nonce, err := strconv.ParseUint(rawNonce, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("account %s nonce: %w", rawAddr, err)
		}
		d.Accounts[addr] = state.DumpAccount{
			Balance: balance,
			Nonce:   nonce,
			Code:    code,
			Storage: make(map[core.Hash][]byte),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	slots, err := s.sqlDB.QueryContext(ctx, `SELECT address, slot, value FROM storage`)
	if err != nil {
		return nil, fmt.Errorf("query storage: %w", err)
	}
	defer slots.Close()
	for slots.Next() {
		var (
			rawAddr, rawSlot string
			value            []byte
		)
		if err := slots.Scan(&rawAddr, &rawSlot, &value); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		addr, err := core.HexToAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("slot address %q: %w", rawAddr, err)
		}
		slot, err := core.HexToHash(rawSlot)
		if err != nil {
			return nil, fmt.Errorf("slot key %q: %w", rawSlot, err)
		}
		acc, ok := d.Accounts[addr]
		if !ok {
			return nil, fmt.Errorf("slot %s for unknown account %s", rawSlot, rawAddr)
		}
		acc.Storage[slot] = value
	}
	if err := slots.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage: %w", err)
	}
	return d, nil
}

// Meta returns the value stored under key and whether it exists.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	if err := s.ready(ctx); err != nil {
		return "", false, err
	}
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// PutMeta stores value under key.
func (s *Store) PutMeta(ctx context.Context, key, value string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("meta key is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put meta %s: %w", key, err)
	}
	return nil
}
