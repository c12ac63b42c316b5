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
)

// Role operations

// EnsureReservedRoles creates the ADMIN and USER roles if they are missing.
// Called once at startup; safe to call repeatedly.
func (s *Store) EnsureReservedRoles(ctx context.Context) error {
	reserved := map[string]string{
		model.RoleAdmin: "Full administrative access",
		model.RoleUser:  "Default role for authenticated users",
	}
	for name, description := range reserved {
		existing, err := s.GetRoleByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if _, err := s.CreateRole(ctx, name, description); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateRole(ctx context.Context, name, description string) (*model.Role, error) {
	r := &model.Role{ID: uuid.New().String(), Name: name, Description: description}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description) VALUES (?, ?, ?)`, r.ID, r.Name, r.Description)
	if err != nil {
		return nil, fmt.Errorf("inserting role: %w", err)
	}
	return r, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var r model.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM roles WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding role: %w", err)
	}
	return &r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*model.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []*model.Role
	for rows.Next() {
		var r model.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

// DeleteRole removes a role by name. The reserved ADMIN and USER roles
// cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	if name == model.RoleAdmin || name == model.RoleUser {
		return fmt.Errorf("role %q is reserved: %w", name, wiki.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role %q: %w", name, wiki.ErrNotFound)
	}
	return nil
}

// User operations

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	u := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID)
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]*model.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user roles: %w", err)
	}
	defer rows.Close()

	var roles []*model.Role
	for rows.Next() {
		var r model.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

// Session operations

func (s *Store) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	sess := &model.Session{
		Token:     uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)`,
		sess.Token, sess.UserID, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// GetSessionUser resolves a session token to its user, or nil for an
// unknown token.
func (s *Store) GetSessionUser(ctx context.Context, token string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ?`, token).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return &u, nil
}

// ACL operations

func (s *Store) CreateACL(ctx context.Context, entityType model.EntityType, entityID, roleID string, permission model.Permission) (*model.ACLEntry, error) {
	e := &model.ACLEntry{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		RoleID:     roleID,
		Permission: permission,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO acl (id, entity_type, entity_id, role_id, permission) VALUES (?, ?, ?, ?, ?)`,
		e.ID, string(e.EntityType), e.EntityID, e.RoleID, string(e.Permission))
	if err != nil {
		return nil, fmt.Errorf("inserting grant: %w", err)
	}
	return e, nil
}

func (s *Store) DeleteACL(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM acl WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("grant %q: %w", id, wiki.ErrNotFound)
	}
	return nil
}

func (s *Store) ListACL(ctx context.Context, entityType model.EntityType, entityID string) ([]*model.ACLEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_type, entity_id, role_id, permission FROM acl WHERE entity_type = ? AND entity_id = ?`,
		string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var entries []*model.ACLEntry
	for rows.Next() {
		var e model.ACLEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.RoleID, &e.Permission); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// HasGrant reports whether any role held by the user has a grant on the
// entity at one of the given levels. Evaluated against current grants on
// every call; there is no caching.
func (s *Store) HasGrant(ctx context.Context, userID string, entityType model.EntityType, entityID string, levels []model.Permission) (bool, error) {
	if len(levels) == 0 {
		return false, nil
	}

	query := `
		SELECT COUNT(*)
		FROM acl a
		JOIN user_roles ur ON ur.role_id = a.role_id
		WHERE ur.user_id = ? AND a.entity_type = ? AND a.entity_id = ? AND a.permission IN (?`
	args := []any{userID, string(entityType), entityID, string(levels[0])}
	for _, l := range levels[1:] {
		query += ", ?"
		args = append(args, string(l))
	}
	query += ")"

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("checking grant: %w", err)
	}
	return n > 0, nil
}
