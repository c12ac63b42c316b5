package database_test

import (
	"context"
	"errors"
	"testing"

	"wikid/internal/model"
	"wikid/internal/testutil"
	"wikid/internal/wiki"
)

func TestRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("reserved roles are seeded and idempotent", func(t *testing.T) {
		store := testutil.NewTestStore(t)

		if err := store.EnsureReservedRoles(ctx); err != nil {
			t.Fatalf("second ensure: %v", err)
		}
		for _, name := range []string{model.RoleAdmin, model.RoleUser} {
			role, err := store.GetRoleByName(ctx, name)
			if err != nil {
				t.Fatalf("get %s: %v", name, err)
			}
			if role == nil {
				t.Errorf("role %s not seeded", name)
			}
		}
	})

	t.Run("reserved roles cannot be deleted", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		err := store.DeleteRole(ctx, model.RoleAdmin)
		if !errors.Is(err, wiki.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})

	t.Run("custom role lifecycle", func(t *testing.T) {
		store := testutil.NewTestStore(t)

		role, err := store.CreateRole(ctx, "editors", "can edit docs")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		user := testutil.CreateUser(t, store, "alice")
		if err := store.AssignRole(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("assign: %v", err)
		}
		// Assigning twice is a no-op.
		if err := store.AssignRole(ctx, user.ID, role.ID); err != nil {
			t.Fatalf("re-assign: %v", err)
		}

		roles, err := store.GetUserRoles(ctx, user.ID)
		if err != nil {
			t.Fatalf("get roles: %v", err)
		}
		if len(roles) != 1 || roles[0].Name != "editors" {
			t.Errorf("roles = %+v, want [editors]", roles)
		}

		if err := store.DeleteRole(ctx, "editors"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		roles, err = store.GetUserRoles(ctx, user.ID)
		if err != nil {
			t.Fatalf("get roles after delete: %v", err)
		}
		if len(roles) != 0 {
			t.Errorf("roles after delete = %+v, want empty", roles)
		}
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	user := testutil.CreateUser(t, store, "alice")

	session, err := store.CreateSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Token == "" {
		t.Fatal("empty session token")
	}

	got, err := store.GetSessionUser(ctx, session.Token)
	if err != nil {
		t.Fatalf("get session user: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Errorf("session user = %+v, want %s", got, user.ID)
	}

	unknown, err := store.GetSessionUser(ctx, "bogus-token")
	if err != nil {
		t.Fatalf("unknown token: %v", err)
	}
	if unknown != nil {
		t.Errorf("unknown token resolved to %+v", unknown)
	}
}

func TestHasGrant(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	bag := testutil.CreateBag(t, store, "docs", "")
	user := testutil.CreateUser(t, store, "alice", model.RoleUser)

	testutil.Grant(t, store, model.EntityBag, bag.ID, model.RoleUser, model.PermissionWrite)

	t.Run("write grant satisfies read and write", func(t *testing.T) {
		for _, level := range []model.Permission{model.PermissionRead, model.PermissionWrite} {
			ok, err := store.HasGrant(ctx, user.ID, model.EntityBag, bag.ID, level.Covering())
			if err != nil {
				t.Fatalf("has grant: %v", err)
			}
			if !ok {
				t.Errorf("%s check failed for WRITE grant", level)
			}
		}
	})

	t.Run("write grant does not satisfy admin", func(t *testing.T) {
		ok, err := store.HasGrant(ctx, user.ID, model.EntityBag, bag.ID, model.PermissionAdmin.Covering())
		if err != nil {
			t.Fatalf("has grant: %v", err)
		}
		if ok {
			t.Error("ADMIN check passed for WRITE grant")
		}
	})

	t.Run("user without the role has no grant", func(t *testing.T) {
		outsider := testutil.CreateUser(t, store, "bob")
		ok, err := store.HasGrant(ctx, outsider.ID, model.EntityBag, bag.ID, model.PermissionRead.Covering())
		if err != nil {
			t.Fatalf("has grant: %v", err)
		}
		if ok {
			t.Error("outsider unexpectedly has a grant")
		}
	})
}
