package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wikid/internal/model"
	"wikid/internal/wiki"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the wiki.Store interface using SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory database.
func NewStore(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// NewStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility).
	// Tombstone replacement relies on tiddler_fields ON DELETE CASCADE.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bag operations

func (s *Store) GetBagByName(ctx context.Context, name string) (*model.Bag, error) {
	return s.scanBag(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, is_system, created_at FROM bags WHERE name = ?`, name))
}

func (s *Store) GetBagByID(ctx context.Context, id string) (*model.Bag, error) {
	return s.scanBag(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, is_system, created_at FROM bags WHERE id = ?`, id))
}

func (s *Store) scanBag(row *sql.Row) (*model.Bag, error) {
	var b model.Bag
	var owner sql.NullString
	err := row.Scan(&b.ID, &b.Name, &b.Description, &owner, &b.IsSystem, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("scanning bag: %w", err)
	}
	b.OwnerID = owner.String
	return &b, nil
}

func (s *Store) ListBags(ctx context.Context) ([]*model.Bag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, owner_id, is_system, created_at FROM bags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing bags: %w", err)
	}
	defer rows.Close()

	var bags []*model.Bag
	for rows.Next() {
		var b model.Bag
		var owner sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &owner, &b.IsSystem, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bag: %w", err)
		}
		b.OwnerID = owner.String
		bags = append(bags, &b)
	}
	return bags, rows.Err()
}

// UpsertBag creates a bag or updates its description and system flag by unique name.
// The owner is only set on creation.
func (s *Store) UpsertBag(ctx context.Context, name, description string, isSystem bool, ownerID string) (*model.Bag, error) {
	existing, err := s.GetBagByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE bags SET description = ?, is_system = ? WHERE id = ?`,
			description, isSystem, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("updating bag: %w", err)
		}
		existing.Description = description
		existing.IsSystem = isSystem
		return existing, nil
	}

	b := &model.Bag{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		IsSystem:    isSystem,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bags (id, name, description, owner_id, is_system, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, nullable(b.OwnerID), b.IsSystem, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting bag: %w", err)
	}
	return b, nil
}

// DeleteBag removes a bag by name. The bag must hold no live tiddlers and
// must not be a layer of any recipe; remaining tombstone rows and grants
// are cascade-deleted.
func (s *Store) DeleteBag(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM bags WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("bag %q: %w", name, wiki.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("finding bag: %w", err)
	}

	var live int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tiddlers WHERE bag_id = ? AND is_deleted = 0`, id).Scan(&live)
	if err != nil {
		return fmt.Errorf("counting tiddlers: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("bag %q holds %d tiddlers: %w", name, live, wiki.ErrInUse)
	}

	var refs int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipe_bags WHERE bag_id = ?`, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("counting recipe references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("bag %q is used by %d recipes: %w", name, refs, wiki.ErrInUse)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tiddlers WHERE bag_id = ?`, id); err != nil {
		return fmt.Errorf("deleting tombstones: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM acl WHERE entity_type = 'bag' AND entity_id = ?`, id); err != nil {
		return fmt.Errorf("deleting grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bags WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting bag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tiddler operations

// WriteTiddler replaces the live row for (bag, title) with a new one in a
// single transaction, allocating the next store-wide revision number.
// Inline text and an attachment reference are mutually exclusive.
func (s *Store) WriteTiddler(ctx context.Context, bagID, title string, fields map[string]string, attachmentHash string) (int64, error) {
	if attachmentHash != "" && fields["text"] != "" {
		return 0, fmt.Errorf("tiddler %q carries both inline text and an attachment: %w", title, wiki.ErrValidation)
	}
	return s.replaceTiddler(ctx, bagID, title, fields, attachmentHash, false)
}

// TombstoneTiddler replaces the live row for (bag, title) with a deletion
// marker carrying a fresh revision number and no field payload.
func (s *Store) TombstoneTiddler(ctx context.Context, bagID, title string) (int64, error) {
	return s.replaceTiddler(ctx, bagID, title, nil, "", true)
}

func (s *Store) replaceTiddler(ctx context.Context, bagID, title string, fields map[string]string, attachmentHash string, deleted bool) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace-then-insert inside the transaction: a reader can never observe
	// zero rows for a title mid-write, and the new AUTOINCREMENT revision_id
	// is strictly larger than any previously allocated one.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tiddlers WHERE bag_id = ? AND title = ?`, bagID, title); err != nil {
		return 0, fmt.Errorf("replacing prior row: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tiddlers (bag_id, title, is_deleted, attachment_hash) VALUES (?, ?, ?, ?)`,
		bagID, title, deleted, attachmentHash)
	if err != nil {
		return 0, fmt.Errorf("inserting tiddler: %w", err)
	}

	revision, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}

	for name, value := range fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tiddler_fields (revision_id, field_name, field_value) VALUES (?, ?, ?)`,
			revision, name, value); err != nil {
			return 0, fmt.Errorf("inserting field %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return revision, nil
}

// GetTiddler returns the current row for (bag, title) with its fields,
// or nil if no row exists. Tombstones are returned with IsDeleted set.
func (s *Store) GetTiddler(ctx context.Context, bagID, title string) (*model.Tiddler, error) {
	var t model.Tiddler
	err := s.db.QueryRowContext(ctx,
		`SELECT revision_id, bag_id, title, is_deleted, attachment_hash FROM tiddlers WHERE bag_id = ? AND title = ?`,
		bagID, title).Scan(&t.RevisionID, &t.BagID, &t.Title, &t.IsDeleted, &t.AttachmentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding tiddler: %w", err)
	}

	t.Fields, err = s.tiddlerFields(ctx, t.RevisionID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) tiddlerFields(ctx context.Context, revision int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_name, field_value FROM tiddler_fields WHERE revision_id = ?`, revision)
	if err != nil {
		return nil, fmt.Errorf("loading fields: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		fields[name] = value
	}
	return fields, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
