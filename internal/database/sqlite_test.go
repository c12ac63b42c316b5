package database_test

import (
	"context"
	"errors"
	"testing"

	"wikid/internal/model"
	"wikid/internal/testutil"
	"wikid/internal/wiki"
)

func TestWriteTiddler(t *testing.T) {
	ctx := context.Background()

	t.Run("revisions are monotonic across bags", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		a := testutil.CreateBag(t, store, "alpha", "")
		b := testutil.CreateBag(t, store, "beta", "")

		r1, err := store.WriteTiddler(ctx, a.ID, "one", map[string]string{"title": "one"}, "")
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		r2, err := store.WriteTiddler(ctx, b.ID, "two", map[string]string{"title": "two"}, "")
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		r3, err := store.WriteTiddler(ctx, a.ID, "one", map[string]string{"title": "one", "text": "v2"}, "")
		if err != nil {
			t.Fatalf("write: %v", err)
		}

		if !(r1 < r2 && r2 < r3) {
			t.Errorf("revisions not monotonic: %d, %d, %d", r1, r2, r3)
		}
	})

	t.Run("inline text and attachment are mutually exclusive", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "alpha", "")

		_, err := store.WriteTiddler(ctx, bag.ID, "pic",
			map[string]string{"title": "pic", "text": "inline"}, "deadbeef")
		if !errors.Is(err, wiki.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}

		// An attachment row without inline text is fine.
		if _, err := store.WriteTiddler(ctx, bag.ID, "pic",
			map[string]string{"title": "pic", "type": "image/png"}, "deadbeef"); err != nil {
			t.Errorf("attachment-only write: %v", err)
		}
	})

	t.Run("rewrite keeps a single row per title", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "alpha", "")

		if _, err := store.WriteTiddler(ctx, bag.ID, "note", map[string]string{"title": "note", "text": "v1"}, ""); err != nil {
			t.Fatalf("write: %v", err)
		}
		r2, err := store.WriteTiddler(ctx, bag.ID, "note", map[string]string{"title": "note", "text": "v2"}, "")
		if err != nil {
			t.Fatalf("rewrite: %v", err)
		}

		got, err := store.GetTiddler(ctx, bag.ID, "note")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.RevisionID != r2 {
			t.Errorf("revision = %d, want %d", got.RevisionID, r2)
		}
		if got.Fields["text"] != "v2" {
			t.Errorf("text = %q, want v2", got.Fields["text"])
		}

		var count int
		err = store.DB().QueryRow(`SELECT COUNT(*) FROM tiddlers WHERE bag_id = ? AND title = ?`, bag.ID, "note").Scan(&count)
		if err != nil {
			t.Fatalf("counting rows: %v", err)
		}
		if count != 1 {
			t.Errorf("row count = %d, want 1", count)
		}
	})

	t.Run("fields round trip", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "alpha", "")

		fields := map[string]string{
			"title": "note",
			"text":  "hello\nworld",
			"tags":  "[[a b]] c",
			"type":  "text/vnd.tiddlywiki",
		}
		if _, err := store.WriteTiddler(ctx, bag.ID, "note", fields, ""); err != nil {
			t.Fatalf("write: %v", err)
		}

		got, err := store.GetTiddler(ctx, bag.ID, "note")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		for k, v := range fields {
			if got.Fields[k] != v {
				t.Errorf("field %s = %q, want %q", k, got.Fields[k], v)
			}
		}
	})

	t.Run("tombstone replaces the live row and allocates a revision", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "alpha", "")

		r1, err := store.WriteTiddler(ctx, bag.ID, "note", map[string]string{"title": "note"}, "")
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		r2, err := store.TombstoneTiddler(ctx, bag.ID, "note")
		if err != nil {
			t.Fatalf("tombstone: %v", err)
		}
		if r2 <= r1 {
			t.Errorf("tombstone revision %d not after write revision %d", r2, r1)
		}

		got, err := store.GetTiddler(ctx, bag.ID, "note")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.IsDeleted {
			t.Error("expected tombstone row")
		}
	})

	t.Run("missing tiddler returns nil", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "alpha", "")

		got, err := store.GetTiddler(ctx, bag.ID, "absent")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})
}

func TestBags(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert updates description without changing owner", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		owner := testutil.CreateUser(t, store, "alice")

		created, err := store.UpsertBag(ctx, "docs", "first", false, owner.ID)
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		updated, err := store.UpsertBag(ctx, "docs", "second", false, "someone-else")
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.ID != created.ID {
			t.Errorf("id changed on upsert: %s != %s", updated.ID, created.ID)
		}
		if updated.Description != "second" {
			t.Errorf("description = %q, want second", updated.Description)
		}
		if updated.OwnerID != owner.ID {
			t.Errorf("owner = %q, want %q", updated.OwnerID, owner.ID)
		}
	})

	t.Run("delete refuses a bag with live tiddlers", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "docs", "")

		if _, err := store.WriteTiddler(ctx, bag.ID, "note", map[string]string{"title": "note"}, ""); err != nil {
			t.Fatalf("write: %v", err)
		}

		err := store.DeleteBag(ctx, "docs")
		if !errors.Is(err, wiki.ErrInUse) {
			t.Errorf("err = %v, want ErrInUse", err)
		}
	})

	t.Run("delete refuses a bag referenced by a recipe", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "docs", "")
		testutil.CreateRecipe(t, store, "wiki", "", bag)

		err := store.DeleteBag(ctx, "docs")
		if !errors.Is(err, wiki.ErrInUse) {
			t.Errorf("err = %v, want ErrInUse", err)
		}
	})

	t.Run("delete removes tombstones and grants", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		bag := testutil.CreateBag(t, store, "docs", "")

		if _, err := store.WriteTiddler(ctx, bag.ID, "note", map[string]string{"title": "note"}, ""); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := store.TombstoneTiddler(ctx, bag.ID, "note"); err != nil {
			t.Fatalf("tombstone: %v", err)
		}
		testutil.Grant(t, store, model.EntityBag, bag.ID, model.RoleUser, model.PermissionRead)

		if err := store.DeleteBag(ctx, "docs"); err != nil {
			t.Fatalf("delete: %v", err)
		}

		got, err := store.GetBagByName(ctx, "docs")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != nil {
			t.Error("bag still present after delete")
		}
	})
}
