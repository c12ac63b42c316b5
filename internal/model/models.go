package model

import "time"

// Permission is the level required or granted by an ACL entry.
// Grants are stored at a single level; "has at least" checks are an
// explicit OR across sufficient levels (ADMIN covers WRITE covers READ).
type Permission string

const (
	PermissionRead  Permission = "READ"
	PermissionWrite Permission = "WRITE"
	PermissionAdmin Permission = "ADMIN"
)

// Covering returns the set of stored grant levels that satisfy p.
func (p Permission) Covering() []Permission {
	switch p {
	case PermissionRead:
		return []Permission{PermissionRead, PermissionWrite, PermissionAdmin}
	case PermissionWrite:
		return []Permission{PermissionWrite, PermissionAdmin}
	default:
		return []Permission{PermissionAdmin}
	}
}

// EntityType identifies the subject kind of an ACL entry.
type EntityType string

const (
	EntityBag    EntityType = "bag"
	EntityRecipe EntityType = "recipe"
)

// Reserved role names. These cannot be renamed or deleted.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Bag is a named, access-controlled container of tiddlers.
type Bag struct {
	ID          string // UUID
	Name        string // Unique
	Description string
	OwnerID     string // UUID of owning user; empty if unowned
	IsSystem    bool   // System/plugin bag; affects default visibility only
	CreatedAt   time.Time
}

// Tiddler is the current-state row for a title within a bag.
// At most one live row exists per (bag, title); every write or tombstone
// replaces the prior row and allocates a new revision number.
type Tiddler struct {
	RevisionID     int64  // Store-wide monotonic revision (logical clock)
	BagID          string // Foreign key to Bag
	Title          string // Unique within bag
	IsDeleted      bool   // Tombstone flag
	AttachmentHash string // Content hash in the blob store; empty if inline
	Fields         map[string]string
}

// Recipe is an ordered stack of bags composed into one logical wiki.
type Recipe struct {
	ID          string // UUID
	Name        string // Unique
	Description string
	OwnerID     string // UUID of owning user; empty if unowned
	CreatedAt   time.Time
}

// RecipeBag binds a bag into a recipe at a position.
// Position 0 is the recipe's single writable layer; lower positions take
// precedence on title collisions.
type RecipeBag struct {
	RecipeID   string
	BagID      string
	Position   int
	InheritACL bool // When false the recipe's own grants gate this layer
}

// Role groups users for permission grants.
type Role struct {
	ID          string // UUID
	Name        string // Unique
	Description string
}

// User is an authenticated identity. Password verification happens in the
// external login handshake; the server only consumes sessions.
type User struct {
	ID           string // UUID
	Username     string // Unique
	PasswordHash string // bcrypt
	CreatedAt    time.Time
}

// Session maps a bearer token to a user.
type Session struct {
	Token     string // UUID
	UserID    string
	CreatedAt time.Time
}

// ACLEntry grants a role a permission level on a bag or recipe.
type ACLEntry struct {
	ID         string // UUID
	EntityType EntityType
	EntityID   string
	RoleID     string
	Permission Permission
}

// RecipeTiddler is one entry of a resolved recipe: the winning row for a
// title after layer precedence is applied.
type RecipeTiddler struct {
	Title      string
	RevisionID int64
	IsDeleted  bool
	BagID      string
	BagName    string
	Position   int
}
