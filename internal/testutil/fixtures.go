package testutil

import (
	"context"
	"testing"

	"wikid/internal/attachments"
	"wikid/internal/database"
	"wikid/internal/model"
	"wikid/internal/wiki"
)

// NewTestService wires a Service over an in-memory store and in-memory
// attachments with the given anonymous access policy.
func NewTestService(t *testing.T, anon wiki.AnonymousAccess) (*wiki.Service, *database.Store) {
	t.Helper()
	store := NewTestStore(t)
	svc := wiki.NewService(store, attachments.NewMemoryStore(), wiki.NewNopLogger(), FixedClock(), NewStubIDGenerator(), anon, 0)
	return svc, store
}

// CreateBag inserts a bag, failing the test on error.
func CreateBag(t *testing.T, store *database.Store, name, ownerID string) *model.Bag {
	t.Helper()
	bag, err := store.UpsertBag(context.Background(), name, "", false, ownerID)
	if err != nil {
		t.Fatalf("creating bag %s: %v", name, err)
	}
	return bag
}

// CreateRecipe inserts a recipe and binds the given bags as layers in
// order; the first bag becomes the writable position-0 layer. Every layer
// inherits its bag's ACL.
func CreateRecipe(t *testing.T, store *database.Store, name, ownerID string, bags ...*model.Bag) *model.Recipe {
	t.Helper()
	ctx := context.Background()

	recipe, err := store.UpsertRecipe(ctx, name, "", ownerID)
	if err != nil {
		t.Fatalf("creating recipe %s: %v", name, err)
	}

	layers := make([]model.RecipeBag, 0, len(bags))
	for i, bag := range bags {
		layers = append(layers, model.RecipeBag{
			RecipeID:   recipe.ID,
			BagID:      bag.ID,
			Position:   i,
			InheritACL: true,
		})
	}
	if err := store.ReplaceRecipeBags(ctx, recipe.ID, layers); err != nil {
		t.Fatalf("binding layers for recipe %s: %v", name, err)
	}
	return recipe
}

// CreateUser inserts a user with the given roles assigned.
func CreateUser(t *testing.T, store *database.Store, username string, roles ...string) *model.User {
	t.Helper()
	ctx := context.Background()

	user, err := store.CreateUser(ctx, username, "")
	if err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	for _, roleName := range roles {
		role, err := store.GetRoleByName(ctx, roleName)
		if err != nil || role == nil {
			t.Fatalf("looking up role %s: %v", roleName, err)
		}
		if err := store.AssignRole(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("assigning role %s: %v", roleName, err)
		}
	}
	return user
}

// Grant creates an ACL entry for a role on a bag or recipe.
func Grant(t *testing.T, store *database.Store, entityType model.EntityType, entityID, roleName string, permission model.Permission) {
	t.Helper()
	ctx := context.Background()

	role, err := store.GetRoleByName(ctx, roleName)
	if err != nil || role == nil {
		t.Fatalf("looking up role %s: %v", roleName, err)
	}
	if _, err := store.CreateACL(ctx, entityType, entityID, role.ID, permission); err != nil {
		t.Fatalf("granting %s on %s %s: %v", permission, entityType, entityID, err)
	}
}
