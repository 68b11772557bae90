// Package db manages the local SQLite state of the client: persisted session
// values, read marks and the diary archive.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver with database/sql

	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/session"
)

// FileName is the database file name inside the EverWalk home.
const FileName = "everwalk.db"

// ReadKind is the entity type a read mark belongs to.
type ReadKind string

const (
	ReadMessage ReadKind = "message"
	ReadDiary   ReadKind = "diary"
)

// Owner partitions read marks and archived entries by backend and account,
// so one home can serve several users or servers without mixing their data.
type Owner string

// OwnerOf returns the owner of data fetched from baseURL by userID.
func OwnerOf(baseURL string, userID int64) Owner {
	return Owner(fmt.Sprintf("%s#%d", strings.TrimRight(baseURL, "/"), userID))
}

// DB wraps a *sql.DB with the path it was opened from.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and initialises the schema.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("db.Open: %w", err)
	}
	d := &DB{db: sqldb, path: path}
	if err := d.createSchema(); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("db.Open createSchema: %w", err)
	}
	return d, nil
}

// Path returns the file the database was opened from.
func (d *DB) Path() string { return d.path }

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func (d *DB) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS read_marks (
			owner     TEXT NOT NULL,
			kind      TEXT NOT NULL,
			id        INTEGER NOT NULL,
			marked_at TEXT NOT NULL,
			PRIMARY KEY (owner, kind, id)
		)`,
		`CREATE TABLE IF NOT EXISTS diary_archive (
			owner      TEXT NOT NULL,
			id         INTEGER NOT NULL,
			pet_id     INTEGER NOT NULL,
			pet_name   TEXT,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			mood       TEXT,
			is_read    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			synced_at  TEXT NOT NULL,
			PRIMARY KEY (owner, id)
		)`,
		`CREATE INDEX IF NOT EXISTS diary_archive_pet ON diary_archive (owner, pet_id, created_at)`,
	}

	for _, s := range stmts {
		if _, err := d.db.Exec(s); err != nil {
			return fmt.Errorf("createSchema exec: %w\nSQL: %s", err, s)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Key-value store (session.Store)
// ---------------------------------------------------------------------------

// Get returns the value of key, or session.ErrNotFound.
func (d *DB) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db.Get: %w", err)
	}
	return val, nil
}

// Set upserts key.
func (d *DB) Set(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, now(),
	)
	if err != nil {
		return fmt.Errorf("db.Set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("db.Delete: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Read marks
// ---------------------------------------------------------------------------

// IsMarkedRead reports whether owner already marked id of kind read.
func (d *DB) IsMarkedRead(ctx context.Context, owner Owner, kind ReadKind, id int64) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM read_marks WHERE owner = ? AND kind = ? AND id = ?`, string(owner), string(kind), id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db.IsMarkedRead: %w", err)
	}
	return n > 0, nil
}

// MarkRead records id of kind as read by owner. It returns false when the mark
// already existed.
func (d *DB) MarkRead(ctx context.Context, owner Owner, kind ReadKind, id int64) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO read_marks (owner, kind, id, marked_at) VALUES (?, ?, ?, ?)`,
		string(owner), string(kind), id, now(),
	)
	if err != nil {
		return false, fmt.Errorf("db.MarkRead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db.MarkRead: %w", err)
	}
	if kind == ReadDiary && n > 0 {
		if _, err := d.db.ExecContext(ctx, `UPDATE diary_archive SET is_read = 1 WHERE owner = ? AND id = ?`, string(owner), id); err != nil {
			return true, fmt.Errorf("db.MarkRead archive: %w", err)
		}
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Diary archive
// ---------------------------------------------------------------------------

// ArchiveDiary stores entries for owner, replacing earlier copies with the
// same id.
func (d *DB) ArchiveDiary(ctx context.Context, owner Owner, entries []models.DiaryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.ArchiveDiary: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO diary_archive (
			owner, id, pet_id, pet_name, title, content, mood, is_read, created_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("db.ArchiveDiary: prepare: %w", err)
	}
	defer stmt.Close()

	synced := now()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			string(owner), e.ID, e.PetID, e.PetName, e.Title, e.Content, string(e.Mood),
			boolInt(e.IsRead), e.CreatedAt, synced,
		); err != nil {
			return fmt.Errorf("db.ArchiveDiary: insert %d: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db.ArchiveDiary: commit: %w", err)
	}
	return nil
}

// ListArchivedDiary returns the entries of petID archived for owner, newest
// first.
func (d *DB) ListArchivedDiary(ctx context.Context, owner Owner, petID int64) ([]models.DiaryEntry, error) {
	return d.queryDiary(ctx, "ListArchivedDiary", owner, "", petID, 0)
}

// SearchDiary matches every whitespace-separated term of query against title
// or content, case-insensitively. petID 0 searches all pets. Results are
// newest first. Only entries archived for owner are searched.
func (d *DB) SearchDiary(ctx context.Context, owner Owner, query string, petID int64, limit int) ([]models.DiaryEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return d.queryDiary(ctx, "SearchDiary", owner, query, petID, limit)
}

// CountArchived returns the number of entries archived for owner and petID
// (0 for all pets).
func (d *DB) CountArchived(ctx context.Context, owner Owner, petID int64) (int, error) {
	where, params := buildWhere("", owner, petID, nil)
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM diary_archive"+where, params...).Scan(&n) // #nosec G202 -- WHERE clause uses hardcoded column names only
	if err != nil {
		return 0, fmt.Errorf("db.CountArchived: %w", err)
	}
	return n, nil
}

// ForgetOwner deletes every read mark and archived entry of owner.
func (d *DB) ForgetOwner(ctx context.Context, owner Owner) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.ForgetOwner: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"read_marks", "diary_archive"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE owner = ?", string(owner)); err != nil { // #nosec G202 -- table names are constants
			return fmt.Errorf("db.ForgetOwner: %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db.ForgetOwner: commit: %w", err)
	}
	return nil
}

func (d *DB) queryDiary(ctx context.Context, op string, owner Owner, query string, petID int64, limit int) ([]models.DiaryEntry, error) {
	where, params := buildWhere("a", owner, petID, strings.Fields(query))
	q := `
		SELECT a.id, a.pet_id, COALESCE(a.pet_name, ''), a.title, a.content,
		       COALESCE(a.mood, ''), a.is_read, a.created_at
		FROM diary_archive a`
	q += where + "\n\t\tORDER BY a.created_at DESC, a.id DESC" // #nosec G202 -- WHERE clause uses hardcoded column names only; values flow through ? bound parameters
	if limit > 0 {
		q += "\n\t\tLIMIT ?"
		params = append(params, limit)
	}

	rows, err := d.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("db.%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.DiaryEntry
	for rows.Next() {
		var e models.DiaryEntry
		var mood string
		var isRead int
		if err := rows.Scan(&e.ID, &e.PetID, &e.PetName, &e.Title, &e.Content, &mood, &isRead, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db.%s: scan: %w", op, err)
		}
		e.Mood = models.Mood(mood)
		e.IsRead = isRead != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db.%s: rows: %w", op, err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// buildWhere constructs a WHERE clause for the owner, an optional pet filter
// and LIKE terms. tableAlias is the SQL alias prefix (e.g. "a"); pass "" for
// unaliased queries.
func buildWhere(tableAlias string, owner Owner, petID int64, terms []string) (string, []any) {
	prefix := ""
	if tableAlias != "" {
		prefix = tableAlias + "."
	}
	clauses := []string{prefix + "owner = ?"}
	params := []any{string(owner)}
	if petID != 0 {
		clauses = append(clauses, prefix+"pet_id = ?")
		params = append(params, petID)
	}
	for _, t := range terms {
		like := "%" + escapeLike(strings.ToLower(t)) + "%"
		clauses = append(clauses,
			"(LOWER("+prefix+"title) LIKE ? ESCAPE '\\' OR LOWER("+prefix+"content) LIKE ? ESCAPE '\\')")
		params = append(params, like, like)
	}
	return " WHERE " + strings.Join(clauses, " AND "), params
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
