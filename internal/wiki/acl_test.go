package wiki_test

import (
	"context"
	"testing"

	"wikid/internal/model"
	"wikid/internal/testutil"
	"wikid/internal/wiki"
)

func TestAnonymousAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous read exposes every recipe", func(t *testing.T) {
		svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{Read: true})
		bag := testutil.CreateBag(t, store, "docs", "")
		recipe := testutil.CreateRecipe(t, store, "wiki", "", bag)

		ok, err := svc.CanReadRecipe(ctx, nil, recipe)
		if err != nil {
			t.Fatalf("can read: %v", err)
		}
		if !ok {
			t.Error("anonymous read denied despite site toggle")
		}

		ok, err = svc.CanWriteRecipe(ctx, nil, recipe)
		if err != nil {
			t.Fatalf("can write: %v", err)
		}
		if ok {
			t.Error("anonymous write allowed with read-only toggle")
		}
	})

	t.Run("anonymous write implies read", func(t *testing.T) {
		svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{Write: true})
		bag := testutil.CreateBag(t, store, "docs", "")
		recipe := testutil.CreateRecipe(t, store, "wiki", "", bag)

		for name, check := range map[string]func(context.Context, *model.User, *model.Recipe) (bool, error){
			"read":  svc.CanReadRecipe,
			"write": svc.CanWriteRecipe,
		} {
			ok, err := check(ctx, nil, recipe)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if !ok {
				t.Errorf("anonymous %s denied despite write toggle", name)
			}
		}
	})

	t.Run("no toggles deny anonymous entirely", func(t *testing.T) {
		svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{})
		bag := testutil.CreateBag(t, store, "docs", "")
		recipe := testutil.CreateRecipe(t, store, "wiki", "", bag)

		ok, err := svc.CanReadRecipe(ctx, nil, recipe)
		if err != nil {
			t.Fatalf("can read: %v", err)
		}
		if ok {
			t.Error("anonymous read allowed with no toggles")
		}
	})
}

func TestOwnerAccess(t *testing.T) {
	ctx := context.Background()
	svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{})

	owner := testutil.CreateUser(t, store, "alice")
	other := testutil.CreateUser(t, store, "bob")
	bag := testutil.CreateBag(t, store, "docs", owner.ID)
	recipe := testutil.CreateRecipe(t, store, "wiki", owner.ID, bag)

	t.Run("owner passes without grants", func(t *testing.T) {
		ok, err := svc.CanReadRecipe(ctx, owner, recipe)
		if err != nil {
			t.Fatalf("can read: %v", err)
		}
		if !ok {
			t.Error("owner denied read")
		}
		ok, err = svc.CanWriteRecipe(ctx, owner, recipe)
		if err != nil {
			t.Fatalf("can write: %v", err)
		}
		if !ok {
			t.Error("owner denied write")
		}
	})

	t.Run("non-owner without grants is denied", func(t *testing.T) {
		ok, err := svc.CanReadRecipe(ctx, other, recipe)
		if err != nil {
			t.Fatalf("can read: %v", err)
		}
		if ok {
			t.Error("non-owner allowed read")
		}
	})
}

func TestRoleGrants(t *testing.T) {
	ctx := context.Background()

	t.Run("every layer must be readable", func(t *testing.T) {
		svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{})
		user := testutil.CreateUser(t, store, "alice", model.RoleUser)
		open := testutil.CreateBag(t, store, "open", "")
		restricted := testutil.CreateBag(t, store, "restricted", "")
		recipe := testutil.CreateRecipe(t, store, "wiki", "", open, restricted)

		testutil.Grant(t, store, model.EntityBag, open.ID, model.RoleUser, model.PermissionRead)

		ok, err := svc.CanReadRecipe(ctx, user, recipe)
		if err != nil {
			t.Fatalf("can read: %v", err)
		}
		if ok {
			t.Error("recipe readable while one layer is not")
		}

		testutil.Grant(t, store, model.EntityBag, restricted.ID, model.RoleUser, model.PermissionRead)
		ok, err = svc.CanReadRecipe(ctx, user, recipe)
		if err != nil {
			t.Fatalf("can read: %v", err)
		}
		if !ok {
			t.Error("recipe unreadable with all layers granted")
		}
	})

	t.Run("write needs the writable layer's bag grant", func(t *testing.T) {
		svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{})
		user := testutil.CreateUser(t, store, "alice", model.RoleUser)
		drafts := testutil.CreateBag(t, store, "drafts", "")
		core := testutil.CreateBag(t, store, "core", "")
		recipe := testutil.CreateRecipe(t, store, "wiki", "", drafts, core)

		// WRITE on the lower layer is not enough.
		testutil.Grant(t, store, model.EntityBag, core.ID, model.RoleUser, model.PermissionWrite)
		ok, err := svc.CanWriteRecipe(ctx, user, recipe)
		if err != nil {
			t.Fatalf("can write: %v", err)
		}
		if ok {
			t.Error("write allowed without position-0 grant")
		}

		testutil.Grant(t, store, model.EntityBag, drafts.ID, model.RoleUser, model.PermissionWrite)
		ok, err = svc.CanWriteRecipe(ctx, user, recipe)
		if err != nil {
			t.Fatalf("can write: %v", err)
		}
		if !ok {
			t.Error("write denied with position-0 grant")
		}
	})
}

func TestInheritACL(t *testing.T) {
	ctx := context.Background()
	svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{})

	user := testutil.CreateUser(t, store, "alice", model.RoleUser)
	hidden := testutil.CreateBag(t, store, "hidden", "")
	recipe, err := store.UpsertRecipe(ctx, "wiki", "", "")
	if err != nil {
		t.Fatalf("creating recipe: %v", err)
	}
	// The layer does not inherit the bag ACL: the recipe's own grants gate it.
	err = store.ReplaceRecipeBags(ctx, recipe.ID, []model.RecipeBag{
		{RecipeID: recipe.ID, BagID: hidden.ID, Position: 0, InheritACL: false},
	})
	if err != nil {
		t.Fatalf("binding layer: %v", err)
	}

	ok, err := svc.CanReadRecipe(ctx, user, recipe)
	if err != nil {
		t.Fatalf("can read: %v", err)
	}
	if ok {
		t.Error("readable without any recipe grant")
	}

	// A READ grant on the recipe opens the layer even though the user has
	// no grant on the underlying bag.
	testutil.Grant(t, store, model.EntityRecipe, recipe.ID, model.RoleUser, model.PermissionRead)
	ok, err = svc.CanReadRecipe(ctx, user, recipe)
	if err != nil {
		t.Fatalf("can read: %v", err)
	}
	if !ok {
		t.Error("recipe grant did not open the detached layer")
	}

	// Writing needs a recipe WRITE grant for the detached writable layer.
	ok, err = svc.CanWriteRecipe(ctx, user, recipe)
	if err != nil {
		t.Fatalf("can write: %v", err)
	}
	if ok {
		t.Error("writable with only a READ grant")
	}
	testutil.Grant(t, store, model.EntityRecipe, recipe.ID, model.RoleUser, model.PermissionWrite)
	ok, err = svc.CanWriteRecipe(ctx, user, recipe)
	if err != nil {
		t.Fatalf("can write: %v", err)
	}
	if !ok {
		t.Error("recipe WRITE grant did not open the writable layer")
	}
}

func TestIsSiteAdmin(t *testing.T) {
	ctx := context.Background()
	svc, store := testutil.NewTestService(t, wiki.AnonymousAccess{})

	admin := testutil.CreateUser(t, store, "root", model.RoleAdmin)
	user := testutil.CreateUser(t, store, "alice", model.RoleUser)

	if ok, err := svc.IsSiteAdmin(ctx, admin); err != nil || !ok {
		t.Errorf("admin check = (%v, %v), want true", ok, err)
	}
	if ok, err := svc.IsSiteAdmin(ctx, user); err != nil || ok {
		t.Errorf("user check = (%v, %v), want false", ok, err)
	}
	if ok, err := svc.IsSiteAdmin(ctx, nil); err != nil || ok {
		t.Errorf("anonymous check = (%v, %v), want false", ok, err)
	}
}
