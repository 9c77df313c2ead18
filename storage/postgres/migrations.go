package postgres

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

type migration struct {
	apply  string
	revert string
}

var migrations = []migration{
	// 001
	{
		apply: `
			CREATE TABLE users (
				id       TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE
			);
			CREATE TABLE tuits (
				id        TEXT PRIMARY KEY,
				tuit      TEXT NOT NULL,
				posted_by TEXT NOT NULL,
				posted_on TIMESTAMPTZ NOT NULL DEFAULT now(),
				v         BIGINT NOT NULL DEFAULT 1 CHECK (v >= 1),
				replies   BIGINT NOT NULL DEFAULT 0 CHECK (replies >= 0),
				retuits   BIGINT NOT NULL DEFAULT 0 CHECK (retuits >= 0),
				likes     BIGINT NOT NULL DEFAULT 0 CHECK (likes >= 0),
				dislikes  BIGINT NOT NULL DEFAULT 0 CHECK (dislikes >= 0)
			);`,
		revert: `DROP TABLE tuits; DROP TABLE users;`,
	},
	// 002
	{
		apply: `
			CREATE TABLE reactions (
				tuit       TEXT NOT NULL REFERENCES tuits (id) ON DELETE CASCADE,
				user_id    TEXT NOT NULL,
				kind       TEXT NOT NULL CHECK (kind IN ('like', 'dislike')),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (tuit, user_id)
			);
			CREATE INDEX reactions_user_kind ON reactions (user_id, kind);
			CREATE INDEX reactions_tuit_kind ON reactions (tuit, kind);`,
		revert: `DROP TABLE reactions;`,
	},
	// 003
	{
		apply: `
			CREATE TABLE tuit_versions (
				ref       TEXT NOT NULL,
				v         BIGINT NOT NULL,
				tuit      TEXT NOT NULL,
				edited_on TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (ref, v)
			);`,
		revert: `DROP TABLE tuit_versions;`,
	},
}

// Migrate applies every pending migration.
func (m *Manager) Migrate(ctx context.Context) error {
	return m.MigrateTo(ctx, len(migrations))
}

// MigrateTo applies or reverts migrations until exactly toIndex of them are
// in place. Each step runs in its own transaction.
func (m *Manager) MigrateTo(ctx context.Context, toIndex int) error {
	if toIndex < 0 || toIndex > len(migrations) {
		return fmt.Errorf("migration index %d out of range [0, %d]", toIndex, len(migrations))
	}

	_, err := m.connectionPool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INT PRIMARY KEY)`)
	if err != nil {
		return wrapError("create schema_migrations", err)
	}

	var current int
	err = m.connectionPool.QueryRow(ctx, `SELECT COALESCE(max(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return wrapError("read schema version", err)
	}

	for i := current; i < toIndex; i++ {
		if err := m.step(ctx, migrations[i].apply, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			return fmt.Errorf("apply migration %03d: %w", i+1, err)
		}
		log.Infof("Applied migration %03d", i+1)
	}
	for i := current - 1; i >= toIndex; i-- {
		if err := m.step(ctx, migrations[i].revert, `DELETE FROM schema_migrations WHERE version = $1`, i+1); err != nil {
			return fmt.Errorf("revert migration %03d: %w", i+1, err)
		}
		log.Infof("Reverted migration %03d", i+1)
	}
	return nil
}

func (m *Manager) step(ctx context.Context, sql string, bookkeeping string, version int) error {
	err := pgx.BeginTxFunc(ctx, m.connectionPool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, bookkeeping, version)
		return err
	})
	return wrapError("migration", err)
}
