package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"wikid/internal/model"
	"wikid/internal/wiki"
)

// Recipe operations

func (s *Store) GetRecipeByName(ctx context.Context, name string) (*model.Recipe, error) {
	var r model.Recipe
	var owner sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, created_at FROM recipes WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.Description, &owner, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding recipe: %w", err)
	}
	r.OwnerID = owner.String
	return &r, nil
}

func (s *Store) ListRecipes(ctx context.Context) ([]*model.Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, owner_id, created_at FROM recipes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing recipes: %w", err)
	}
	defer rows.Close()

	var recipes []*model.Recipe
	for rows.Next() {
		var r model.Recipe
		var owner sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &owner, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning recipe: %w", err)
		}
		r.OwnerID = owner.String
		recipes = append(recipes, &r)
	}
	return recipes, rows.Err()
}

// UpsertRecipe creates a recipe or updates its description by unique name.
// The owner is only set on creation.
func (s *Store) UpsertRecipe(ctx context.Context, name, description, ownerID string) (*model.Recipe, error) {
	existing, err := s.GetRecipeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE recipes SET description = ? WHERE id = ?`, description, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("updating recipe: %w", err)
		}
		existing.Description = description
		return existing, nil
	}

	r := &model.Recipe{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipes (id, name, description, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, nullable(r.OwnerID), r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting recipe: %w", err)
	}
	return r, nil
}

// DeleteRecipe removes a recipe by name. Layers are cascade-deleted by the
// schema; grants on the recipe are removed in the same transaction.
func (s *Store) DeleteRecipe(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM recipes WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("recipe %q: %w", name, wiki.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("finding recipe: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM acl WHERE entity_type = 'recipe' AND entity_id = ?`, id); err != nil {
		return fmt.Errorf("deleting grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting recipe: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ReplaceRecipeBags replaces the layer list of a recipe in one transaction.
// Layers must be non-empty, with unique positions including position 0.
func (s *Store) ReplaceRecipeBags(ctx context.Context, recipeID string, layers []model.RecipeBag) error {
	if len(layers) == 0 {
		return fmt.Errorf("recipe must declare at least one bag: %w", wiki.ErrValidation)
	}
	seen := make(map[int]bool, len(layers))
	for _, l := range layers {
		if seen[l.Position] {
			return fmt.Errorf("duplicate layer position %d: %w", l.Position, wiki.ErrValidation)
		}
		seen[l.Position] = true
	}
	if !seen[0] {
		return fmt.Errorf("recipe has no writable layer at position 0: %w", wiki.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_bags WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("clearing layers: %w", err)
	}
	for _, l := range layers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_bags (recipe_id, bag_id, position, inherit_acl) VALUES (?, ?, ?, ?)`,
			recipeID, l.BagID, l.Position, l.InheritACL); err != nil {
			return fmt.Errorf("inserting layer at position %d: %w", l.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetRecipeBags returns the layers of a recipe ordered by position ascending.
func (s *Store) GetRecipeBags(ctx context.Context, recipeID string) ([]model.RecipeBag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipe_id, bag_id, position, inherit_acl FROM recipe_bags WHERE recipe_id = ? ORDER BY position`,
		recipeID)
	if err != nil {
		return nil, fmt.Errorf("loading layers: %w", err)
	}
	defer rows.Close()

	var layers []model.RecipeBag
	for rows.Next() {
		var l model.RecipeBag
		if err := rows.Scan(&l.RecipeID, &l.BagID, &l.Position, &l.InheritACL); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// ListRecipeIDsForBag returns the IDs of every recipe using the bag as a
// layer. Used to fan a bag write out to recipe subscribers.
func (s *Store) ListRecipeIDsForBag(ctx context.Context, bagID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipe_id FROM recipe_bags WHERE bag_id = ?`, bagID)
	if err != nil {
		return nil, fmt.Errorf("listing recipes for bag: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning recipe id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// recipeRows loads every current tiddler row across all layers of a recipe,
// tombstones included, joined with bag name and layer position.
func (s *Store) recipeRows(ctx context.Context, recipeID string) ([]model.RecipeTiddler, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.title, t.revision_id, t.is_deleted, t.bag_id, b.name, rb.position
		FROM recipe_bags rb
		JOIN bags b ON b.id = rb.bag_id
		JOIN tiddlers t ON t.bag_id = rb.bag_id
		WHERE rb.recipe_id = ?`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("loading recipe rows: %w", err)
	}
	defer rows.Close()

	var out []model.RecipeTiddler
	for rows.Next() {
		var rt model.RecipeTiddler
		if err := rows.Scan(&rt.Title, &rt.RevisionID, &rt.IsDeleted, &rt.BagID, &rt.BagName, &rt.Position); err != nil {
			return nil, fmt.Errorf("scanning recipe row: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// mergeByPosition picks the winning row per title: the one from the layer
// with the lowest position number. Tombstones participate like any other
// row, so a tombstone in a higher-precedence layer shadows a live tiddler
// in a lower one.
func mergeByPosition(rows []model.RecipeTiddler) map[string]model.RecipeTiddler {
	best := make(map[string]model.RecipeTiddler)
	for _, rt := range rows {
		cur, ok := best[rt.Title]
		if !ok || rt.Position < cur.Position {
			best[rt.Title] = rt
		}
	}
	return best
}

// ResolveRecipe returns the merged, deduplicated view of a recipe: one entry
// per title after layer precedence, ordered by title. Tombstoned titles are
// included with IsDeleted set; callers decide whether to surface them.
func (s *Store) ResolveRecipe(ctx context.Context, recipeID string) ([]model.RecipeTiddler, error) {
	rows, err := s.recipeRows(ctx, recipeID)
	if err != nil {
		return nil, err
	}

	best := mergeByPosition(rows)
	out := make([]model.RecipeTiddler, 0, len(best))
	for _, rt := range best {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// ResolveChangesSince returns one entry per title that changed in any layer
// after the watermark, applying the same precedence rule as ResolveRecipe.
// A title whose best-surviving row is deleted is reported as a deletion and
// dropped entirely when includeDeleted is false.
func (s *Store) ResolveChangesSince(ctx context.Context, recipeID string, since int64, includeDeleted bool) ([]model.RecipeTiddler, error) {
	rows, err := s.recipeRows(ctx, recipeID)
	if err != nil {
		return nil, err
	}

	changed := make(map[string]bool)
	for _, rt := range rows {
		if rt.RevisionID > since {
			changed[rt.Title] = true
		}
	}

	best := mergeByPosition(rows)
	out := make([]model.RecipeTiddler, 0, len(changed))
	for title := range changed {
		rt, ok := best[title]
		if !ok {
			continue
		}
		if rt.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// ResolveRecipeTiddler returns the winning row for a single title, or nil if
// no layer holds it.
func (s *Store) ResolveRecipeTiddler(ctx context.Context, recipeID, title string) (*model.RecipeTiddler, error) {
	var rt model.RecipeTiddler
	err := s.db.QueryRowContext(ctx, `
		SELECT t.title, t.revision_id, t.is_deleted, t.bag_id, b.name, rb.position
		FROM recipe_bags rb
		JOIN bags b ON b.id = rb.bag_id
		JOIN tiddlers t ON t.bag_id = rb.bag_id
		WHERE rb.recipe_id = ? AND t.title = ?
		ORDER BY rb.position
		LIMIT 1`, recipeID, title).
		Scan(&rt.Title, &rt.RevisionID, &rt.IsDeleted, &rt.BagID, &rt.BagName, &rt.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("resolving tiddler: %w", err)
	}
	return &rt, nil
}
