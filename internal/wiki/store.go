package wiki

import (
	"context"

	"wikid/internal/model"
)

// Store is the transactional persistence interface the service depends on.
// The sqlite implementation lives in internal/database; everything here is
// evaluated against current state with no caching.
//
// Lookup methods return (nil, nil) when the entity does not exist.
type Store interface {
	// Bags
	GetBagByName(ctx context.Context, name string) (*model.Bag, error)
	GetBagByID(ctx context.Context, id string) (*model.Bag, error)
	ListBags(ctx context.Context) ([]*model.Bag, error)
	UpsertBag(ctx context.Context, name, description string, isSystem bool, ownerID string) (*model.Bag, error)
	DeleteBag(ctx context.Context, name string) error

	// Tiddlers. Writes replace the prior row for (bag, title) in one
	// transaction and allocate the next store-wide revision number.
	WriteTiddler(ctx context.Context, bagID, title string, fields map[string]string, attachmentHash string) (int64, error)
	TombstoneTiddler(ctx context.Context, bagID, title string) (int64, error)
	GetTiddler(ctx context.Context, bagID, title string) (*model.Tiddler, error)

	// Recipes and composition
	GetRecipeByName(ctx context.Context, name string) (*model.Recipe, error)
	ListRecipes(ctx context.Context) ([]*model.Recipe, error)
	UpsertRecipe(ctx context.Context, name, description, ownerID string) (*model.Recipe, error)
	DeleteRecipe(ctx context.Context, name string) error
	ReplaceRecipeBags(ctx context.Context, recipeID string, layers []model.RecipeBag) error
	GetRecipeBags(ctx context.Context, recipeID string) ([]model.RecipeBag, error)
	ListRecipeIDsForBag(ctx context.Context, bagID string) ([]string, error)
	ResolveRecipe(ctx context.Context, recipeID string) ([]model.RecipeTiddler, error)
	ResolveChangesSince(ctx context.Context, recipeID string, since int64, includeDeleted bool) ([]model.RecipeTiddler, error)
	ResolveRecipeTiddler(ctx context.Context, recipeID, title string) (*model.RecipeTiddler, error)

	// Roles and users
	EnsureReservedRoles(ctx context.Context) error
	CreateRole(ctx context.Context, name, description string) (*model.Role, error)
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
	ListRoles(ctx context.Context) ([]*model.Role, error)
	DeleteRole(ctx context.Context, name string) error
	CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	GetUserRoles(ctx context.Context, userID string) ([]*model.Role, error)

	// Sessions
	CreateSession(ctx context.Context, userID string) (*model.Session, error)
	GetSessionUser(ctx context.Context, token string) (*model.User, error)

	// Permission grants
	CreateACL(ctx context.Context, entityType model.EntityType, entityID, roleID string, permission model.Permission) (*model.ACLEntry, error)
	DeleteACL(ctx context.Context, id string) error
	ListACL(ctx context.Context, entityType model.EntityType, entityID string) ([]*model.ACLEntry, error)
	HasGrant(ctx context.Context, userID string, entityType model.EntityType, entityID string, levels []model.Permission) (bool, error)

	Close() error
}

// AttachmentStore is the content-hash-addressed blob interface backing
// large binary tiddler payloads.
type AttachmentStore interface {
	// Put stores the payload and returns its content hash.
	// The operation is idempotent: storing the same content twice is safe.
	Put(data []byte, mimeType string) (string, error)

	// Get retrieves a payload by content hash.
	Get(hash string) ([]byte, error)

	// Size returns the stored size in bytes for a content hash.
	Size(hash string) (int64, error)
}
