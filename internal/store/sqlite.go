package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	markerTTL time.Duration

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ttl := cfg.MarkerTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	st := &sqliteStore{db: db, log: log, markerTTL: ttl, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutMarker(ctx context.Context, key string, firedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	if firedAt.IsZero() {
		firedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markers(key, fired_at) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET fired_at=excluded.fired_at`,
		key, firedAt.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneStale(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetMarker(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT fired_at FROM markers WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneStale(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := time.Now().Add(-s.markerTTL).UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE fired_at < ?`, cutoff)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, mode, tenants, due, succeeded, failed, skipped, delivered, took_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Mode, e.Tenants, e.Due,
		e.Succeeded, e.Failed, e.Skipped, e.Delivered, e.TookMS, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) SaveTickets(ctx context.Context, tenantID string, ts []ticket.Ticket) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(ts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tickets(tenant_id, ticket_id, title, status, priority, category_ids, label_ids, created_at, updated_at, saved_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(tenant_id, ticket_id) DO UPDATE SET
		   title=excluded.title, status=excluded.status, priority=excluded.priority,
		   category_ids=excluded.category_ids, label_ids=excluded.label_ids,
		   updated_at=excluded.updated_at, saved_at=excluded.saved_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range ts {
		cats, _ := json.Marshal(t.CategoryIDs)
		labels, _ := json.Marshal(t.LabelIDs)
		if _, err := stmt.ExecContext(ctx,
			tenantID, t.ID, t.Title, t.Status, t.Priority,
			string(cats), string(labels),
			t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano), now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
