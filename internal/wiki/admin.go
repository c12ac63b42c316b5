package wiki

import (
	"context"
	"fmt"

	"wikid/internal/model"
)

// Management entry points: the operations the external administrative UI
// and the CLI call. Each one re-checks permissions at call time.

// LayerSpec names a bag to bind into a recipe. Slice order is layer
// precedence: the first entry becomes the writable position-0 layer.
type LayerSpec struct {
	BagName    string
	InheritACL bool
}

// requireSiteAdmin gates operations reserved for holders of the ADMIN role.
func (s *Service) requireSiteAdmin(ctx context.Context, user *model.User) error {
	ok, err := s.IsSiteAdmin(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("site administration: %w", ErrPermissionDenied)
	}
	return nil
}

// canAdminBag allows site admins, the bag owner, and holders of an ADMIN
// grant on the bag.
func (s *Service) canAdminBag(ctx context.Context, user *model.User, bag *model.Bag) (bool, error) {
	if ok, err := s.IsSiteAdmin(ctx, user); err != nil || ok {
		return ok, err
	}
	return s.CheckBagPermission(ctx, user, bag, model.PermissionAdmin)
}

func (s *Service) canAdminRecipe(ctx context.Context, user *model.User, recipe *model.Recipe) (bool, error) {
	if ok, err := s.IsSiteAdmin(ctx, user); err != nil || ok {
		return ok, err
	}
	return s.CheckRecipePermission(ctx, user, recipe, model.PermissionAdmin)
}

// UpsertBag creates or updates a bag. Name validation runs before any store
// mutation; system bags use the permissive character set.
func (s *Service) UpsertBag(ctx context.Context, user *model.User, name, description string, isSystem bool) (*model.Bag, error) {
	if err := ValidateName(name, isSystem); err != nil {
		return nil, err
	}

	existing, err := s.store.GetBagByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		ok, err := s.canAdminBag(ctx, user, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("update bag %q: %w", name, ErrPermissionDenied)
		}
		return s.store.UpsertBag(ctx, name, description, isSystem, "")
	}

	if err := s.requireSiteAdmin(ctx, user); err != nil {
		return nil, err
	}
	ownerID := ""
	if user != nil {
		ownerID = user.ID
	}
	return s.store.UpsertBag(ctx, name, description, isSystem, ownerID)
}

// DeleteBag removes an empty, unreferenced bag.
func (s *Service) DeleteBag(ctx context.Context, user *model.User, name string) error {
	bag, err := s.store.GetBagByName(ctx, name)
	if err != nil {
		return err
	}
	if bag == nil {
		return fmt.Errorf("bag %q: %w", name, ErrNotFound)
	}
	ok, err := s.canAdminBag(ctx, user, bag)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete bag %q: %w", name, ErrPermissionDenied)
	}
	return s.store.DeleteBag(ctx, name)
}

// UpsertRecipe creates or updates a recipe and replaces its layer stack.
// Layers must name existing bags; the first layer is writable.
func (s *Service) UpsertRecipe(ctx context.Context, user *model.User, name, description string, layers []LayerSpec) (*model.Recipe, error) {
	if err := ValidateName(name, false); err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("recipe must declare at least one bag: %w", ErrValidation)
	}

	existing, err := s.store.GetRecipeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		ok, err := s.canAdminRecipe(ctx, user, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("update recipe %q: %w", name, ErrPermissionDenied)
		}
	} else if err := s.requireSiteAdmin(ctx, user); err != nil {
		return nil, err
	}

	ownerID := ""
	if user != nil {
		ownerID = user.ID
	}
	recipe, err := s.store.UpsertRecipe(ctx, name, description, ownerID)
	if err != nil {
		return nil, err
	}

	bound := make([]model.RecipeBag, 0, len(layers))
	for i, l := range layers {
		bag, err := s.store.GetBagByName(ctx, l.BagName)
		if err != nil {
			return nil, err
		}
		if bag == nil {
			return nil, fmt.Errorf("layer bag %q: %w", l.BagName, ErrNotFound)
		}
		bound = append(bound, model.RecipeBag{
			RecipeID:   recipe.ID,
			BagID:      bag.ID,
			Position:   i,
			InheritACL: l.InheritACL,
		})
	}
	if err := s.store.ReplaceRecipeBags(ctx, recipe.ID, bound); err != nil {
		return nil, err
	}
	return recipe, nil
}

// DeleteRecipe removes a recipe, its layers and its grants.
func (s *Service) DeleteRecipe(ctx context.Context, user *model.User, name string) error {
	recipe, err := s.store.GetRecipeByName(ctx, name)
	if err != nil {
		return err
	}
	if recipe == nil {
		return fmt.Errorf("recipe %q: %w", name, ErrNotFound)
	}
	ok, err := s.canAdminRecipe(ctx, user, recipe)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete recipe %q: %w", name, ErrPermissionDenied)
	}
	return s.store.DeleteRecipe(ctx, name)
}

// AddGrant creates a permission grant for a role on a bag or recipe.
func (s *Service) AddGrant(ctx context.Context, user *model.User, entityType model.EntityType, entityName, roleName string, permission model.Permission) (*model.ACLEntry, error) {
	entityID, err := s.adminEntity(ctx, user, entityType, entityName)
	if err != nil {
		return nil, err
	}

	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, fmt.Errorf("role %q: %w", roleName, ErrNotFound)
	}

	return s.store.CreateACL(ctx, entityType, entityID, role.ID, permission)
}

// RemoveGrant deletes a permission grant by ID after an admin check on its
// subject.
func (s *Service) RemoveGrant(ctx context.Context, user *model.User, entityType model.EntityType, entityName, grantID string) error {
	if _, err := s.adminEntity(ctx, user, entityType, entityName); err != nil {
		return err
	}
	return s.store.DeleteACL(ctx, grantID)
}

// adminEntity resolves a subject by name and verifies the caller may change
// its ACL.
func (s *Service) adminEntity(ctx context.Context, user *model.User, entityType model.EntityType, entityName string) (string, error) {
	switch entityType {
	case model.EntityBag:
		bag, err := s.store.GetBagByName(ctx, entityName)
		if err != nil {
			return "", err
		}
		if bag == nil {
			return "", fmt.Errorf("bag %q: %w", entityName, ErrNotFound)
		}
		ok, err := s.canAdminBag(ctx, user, bag)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("change bag %q grants: %w", entityName, ErrPermissionDenied)
		}
		return bag.ID, nil
	case model.EntityRecipe:
		recipe, err := s.store.GetRecipeByName(ctx, entityName)
		if err != nil {
			return "", err
		}
		if recipe == nil {
			return "", fmt.Errorf("recipe %q: %w", entityName, ErrNotFound)
		}
		ok, err := s.canAdminRecipe(ctx, user, recipe)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("change recipe %q grants: %w", entityName, ErrPermissionDenied)
		}
		return recipe.ID, nil
	default:
		return "", fmt.Errorf("unknown entity type %q: %w", entityType, ErrValidation)
	}
}

// CreateRole creates a non-reserved role.
func (s *Service) CreateRole(ctx context.Context, user *model.User, name, description string) (*model.Role, error) {
	if err := s.requireSiteAdmin(ctx, user); err != nil {
		return nil, err
	}
	if name == model.RoleAdmin || name == model.RoleUser {
		return nil, fmt.Errorf("role %q is reserved: %w", name, ErrValidation)
	}
	return s.store.CreateRole(ctx, name, description)
}

// DeleteRole removes a non-reserved role; its grants cascade.
func (s *Service) DeleteRole(ctx context.Context, user *model.User, name string) error {
	if err := s.requireSiteAdmin(ctx, user); err != nil {
		return err
	}
	return s.store.DeleteRole(ctx, name)
}
