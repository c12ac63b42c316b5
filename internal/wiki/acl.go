package wiki

import (
	"context"
	"fmt"

	"wikid/internal/model"
)

// AnonymousAccess is the site-wide toggle granting READ and/or WRITE
// without authentication. It is evaluated before any other rule.
type AnonymousAccess struct {
	Read  bool
	Write bool
}

// allows reports whether the anonymous configuration alone satisfies the
// required level. Anonymous write implies anonymous read; ADMIN is never
// granted anonymously.
func (a AnonymousAccess) allows(level model.Permission) bool {
	switch level {
	case model.PermissionRead:
		return a.Read || a.Write
	case model.PermissionWrite:
		return a.Write
	default:
		return false
	}
}

// CheckBagPermission is the permission predicate for a bag subject:
// anonymous configuration first, then ownership, then an OR across role
// grants at sufficient levels. Evaluated against current grants on every
// call.
func (s *Service) CheckBagPermission(ctx context.Context, user *model.User, bag *model.Bag, level model.Permission) (bool, error) {
	if s.anon.allows(level) {
		return true, nil
	}
	if user == nil {
		return false, nil
	}
	if bag.OwnerID != "" && bag.OwnerID == user.ID {
		return true, nil
	}
	return s.store.HasGrant(ctx, user.ID, model.EntityBag, bag.ID, level.Covering())
}

// CheckRecipePermission is the same predicate for a recipe subject.
func (s *Service) CheckRecipePermission(ctx context.Context, user *model.User, recipe *model.Recipe, level model.Permission) (bool, error) {
	if s.anon.allows(level) {
		return true, nil
	}
	if user == nil {
		return false, nil
	}
	if recipe.OwnerID != "" && recipe.OwnerID == user.ID {
		return true, nil
	}
	return s.store.HasGrant(ctx, user.ID, model.EntityRecipe, recipe.ID, level.Covering())
}

// CanReadRecipe evaluates recipe visibility: every layer must be readable,
// except that a layer whose inherit flag is off substitutes the recipe's
// own READ grant for the bag check. This lets an operator expose a recipe
// without exposing the raw bags it is built from.
func (s *Service) CanReadRecipe(ctx context.Context, user *model.User, recipe *model.Recipe) (bool, error) {
	if s.anon.allows(model.PermissionRead) {
		return true, nil
	}
	if user != nil && recipe.OwnerID != "" && recipe.OwnerID == user.ID {
		return true, nil
	}

	layers, err := s.store.GetRecipeBags(ctx, recipe.ID)
	if err != nil {
		return false, err
	}
	if len(layers) == 0 {
		return false, fmt.Errorf("recipe %q has no layers: %w", recipe.Name, ErrComposition)
	}

	for _, layer := range layers {
		ok, err := s.layerReadable(ctx, user, recipe, layer)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) layerReadable(ctx context.Context, user *model.User, recipe *model.Recipe, layer model.RecipeBag) (bool, error) {
	if !layer.InheritACL {
		return s.CheckRecipePermission(ctx, user, recipe, model.PermissionRead)
	}
	bag, err := s.store.GetBagByID(ctx, layer.BagID)
	if err != nil {
		return false, err
	}
	if bag == nil {
		return false, fmt.Errorf("layer bag %s missing: %w", layer.BagID, ErrNotFound)
	}
	return s.CheckBagPermission(ctx, user, bag, model.PermissionRead)
}

// CanWriteRecipe checks write access through the recipe's writable layer:
// the bag's WRITE grant when the layer inherits the bag ACL, the recipe's
// own WRITE grant otherwise.
func (s *Service) CanWriteRecipe(ctx context.Context, user *model.User, recipe *model.Recipe) (bool, error) {
	layer, _, err := s.writableLayer(ctx, recipe)
	if err != nil {
		return false, err
	}
	if !layer.InheritACL {
		return s.CheckRecipePermission(ctx, user, recipe, model.PermissionWrite)
	}
	bag, err := s.store.GetBagByID(ctx, layer.BagID)
	if err != nil {
		return false, err
	}
	if bag == nil {
		return false, fmt.Errorf("writable bag %s missing: %w", layer.BagID, ErrNotFound)
	}
	return s.CheckBagPermission(ctx, user, bag, model.PermissionWrite)
}

// IsSiteAdmin reports whether the user holds the reserved ADMIN role.
// Site admins may manage bags, recipes, roles and grants.
func (s *Service) IsSiteAdmin(ctx context.Context, user *model.User) (bool, error) {
	if user == nil {
		return false, nil
	}
	roles, err := s.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r.Name == model.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}
