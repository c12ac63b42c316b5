package wiki

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wikid/internal/model"
)

// Service is the orchestration layer that gates every read and mutation
// through the access-control rules and coordinates the store, the blob
// store and the push-event hub.
type Service struct {
	store  Store
	blobs  AttachmentStore
	hub    *Hub
	logger Logger
	clock  Clock
	idgen  IDGenerator
	anon   AnonymousAccess

	// attachmentThreshold is the payload size above which binary-encodable
	// text moves to the blob store.
	attachmentThreshold int64
}

// DefaultAttachmentThreshold is used when the configured threshold is zero.
const DefaultAttachmentThreshold = 10 * 1024 * 1024

// NewService creates a new Service with the provided dependencies.
// blobs may be nil when attachment storage is disabled; oversized payloads
// then stay inline.
func NewService(store Store, blobs AttachmentStore, logger Logger, clock Clock, idgen IDGenerator, anon AnonymousAccess, attachmentThreshold int64) *Service {
	if attachmentThreshold <= 0 {
		attachmentThreshold = DefaultAttachmentThreshold
	}
	return &Service{
		store:               store,
		blobs:               blobs,
		hub:                 NewHub(idgen, logger),
		logger:              logger,
		clock:               clock,
		idgen:               idgen,
		anon:                anon,
		attachmentThreshold: attachmentThreshold,
	}
}

// Hub exposes the push-event hub for the stream handler and metrics.
func (s *Service) Hub() *Hub { return s.hub }

// Anonymous returns the site-wide anonymous access configuration.
func (s *Service) Anonymous() AnonymousAccess { return s.anon }

// writableLayer returns the position-0 layer of a recipe.
func (s *Service) writableLayer(ctx context.Context, recipe *model.Recipe) (model.RecipeBag, []model.RecipeBag, error) {
	layers, err := s.store.GetRecipeBags(ctx, recipe.ID)
	if err != nil {
		return model.RecipeBag{}, nil, err
	}
	if len(layers) == 0 {
		return model.RecipeBag{}, nil, fmt.Errorf("recipe %q has no layers: %w", recipe.Name, ErrComposition)
	}
	for _, l := range layers {
		if l.Position == 0 {
			return l, layers, nil
		}
	}
	return model.RecipeBag{}, nil, fmt.Errorf("recipe %q has no writable layer: %w", recipe.Name, ErrComposition)
}

// ResolveWritableBag returns the bag behind a recipe's position-0 layer.
// When title is non-empty it also reports whether that title currently has
// a live row there.
func (s *Service) ResolveWritableBag(ctx context.Context, recipeName, title string) (*model.Bag, bool, error) {
	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return nil, false, err
	}
	return s.writableBag(ctx, recipe, title)
}

// writableBag is ResolveWritableBag past the recipe lookup, shared with
// the save and delete paths.
func (s *Service) writableBag(ctx context.Context, recipe *model.Recipe, title string) (*model.Bag, bool, error) {
	layer, _, err := s.writableLayer(ctx, recipe)
	if err != nil {
		return nil, false, err
	}

	bag, err := s.store.GetBagByID(ctx, layer.BagID)
	if err != nil {
		return nil, false, err
	}
	if bag == nil {
		return nil, false, fmt.Errorf("writable bag %s missing: %w", layer.BagID, ErrNotFound)
	}

	exists := false
	if title != "" {
		t, err := s.store.GetTiddler(ctx, bag.ID, title)
		if err != nil {
			return nil, false, err
		}
		exists = t != nil && !t.IsDeleted
	}
	return bag, exists, nil
}

func (s *Service) requireRecipe(ctx context.Context, name string) (*model.Recipe, error) {
	recipe, err := s.store.GetRecipeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if recipe == nil {
		return nil, fmt.Errorf("recipe %q: %w", name, ErrNotFound)
	}
	return recipe, nil
}

// SaveTiddler writes a tiddler into the recipe's writable bag, allocating a
// new revision. Oversized binary-encodable text is diverted to the blob
// store and replaced by a content-hash reference.
func (s *Service) SaveTiddler(ctx context.Context, user *model.User, recipeName, title string, fields map[string]string) (int64, string, error) {
	if err := ValidateTitle(title); err != nil {
		return 0, "", err
	}

	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return 0, "", err
	}

	ok, err := s.CanWriteRecipe(ctx, user, recipe)
	if err != nil {
		return 0, "", err
	}
	if !ok {
		return 0, "", fmt.Errorf("write to recipe %q: %w", recipeName, ErrPermissionDenied)
	}

	bag, _, err := s.writableBag(ctx, recipe, "")
	if err != nil {
		return 0, "", err
	}

	stored := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		stored[k] = v
	}
	stored["title"] = title

	attachmentHash, err := s.divertAttachment(stored)
	if err != nil {
		return 0, "", err
	}

	revision, err := s.store.WriteTiddler(ctx, bag.ID, title, stored, attachmentHash)
	if err != nil {
		return 0, "", fmt.Errorf("writing tiddler: %w", err)
	}

	s.logger.Debug("tiddler saved", "recipe", recipeName, "bag", bag.Name, "title", title, "revision", revision)
	s.notifyChange(ctx, bag.ID, title)
	return revision, bag.Name, nil
}

// divertAttachment moves an oversized binary-encodable text payload to the
// blob store, stripping the inline text and returning the content hash. An
// empty hash means the payload stays inline.
func (s *Service) divertAttachment(fields map[string]string) (string, error) {
	text := fields["text"]
	if s.blobs == nil || int64(len(text)) <= s.attachmentThreshold || !binaryEncodable(fields["type"]) {
		return "", nil
	}

	hash, err := s.blobs.Put([]byte(text), fields["type"])
	if err != nil {
		return "", fmt.Errorf("storing attachment: %w", err)
	}
	delete(fields, "text")
	return hash, nil
}

// binaryEncodable reports whether a tiddler content type may be stored as
// an attachment blob. Plain text types stay inline regardless of size.
func binaryEncodable(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "image/"),
		strings.HasPrefix(mimeType, "audio/"),
		strings.HasPrefix(mimeType, "video/"):
		return true
	case mimeType == "application/octet-stream",
		mimeType == "application/pdf",
		mimeType == "application/zip":
		return true
	default:
		return false
	}
}

// LoadTiddler reads the merged view of a single title, returning its fields
// and the name of the bag the winning row came from. Attachment payloads
// are re-inlined from the blob store.
func (s *Service) LoadTiddler(ctx context.Context, user *model.User, recipeName, title string) (*model.Tiddler, string, error) {
	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return nil, "", err
	}

	ok, err := s.CanReadRecipe(ctx, user, recipe)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("read recipe %q: %w", recipeName, ErrPermissionDenied)
	}

	best, err := s.store.ResolveRecipeTiddler(ctx, recipe.ID, title)
	if err != nil {
		return nil, "", err
	}
	if best == nil || best.IsDeleted {
		return nil, "", fmt.Errorf("tiddler %q: %w", title, ErrNotFound)
	}

	tiddler, err := s.loadRow(ctx, best.BagID, title)
	if err != nil {
		return nil, "", err
	}
	return tiddler, best.BagName, nil
}

// loadRow fetches a resolved row and re-inlines any attachment. A row the
// resolver reported but the store cannot find is a data-integrity failure
// and aborts the request.
func (s *Service) loadRow(ctx context.Context, bagID, title string) (*model.Tiddler, error) {
	tiddler, err := s.store.GetTiddler(ctx, bagID, title)
	if err != nil {
		return nil, err
	}
	if tiddler == nil {
		return nil, fmt.Errorf("tiddler %q resolved to bag %s but is missing there", title, bagID)
	}

	if tiddler.AttachmentHash != "" {
		if s.blobs == nil {
			return nil, fmt.Errorf("tiddler %q references attachment %s but no blob store is configured", title, tiddler.AttachmentHash)
		}
		data, err := s.blobs.Get(tiddler.AttachmentHash)
		if err != nil {
			return nil, fmt.Errorf("fetching attachment %s: %w", tiddler.AttachmentHash, err)
		}
		tiddler.Fields["text"] = string(data)
	}
	return tiddler, nil
}

// DeleteTiddler tombstones a title in the recipe's writable bag. The
// tombstone replaces any prior row there and allocates a new revision.
func (s *Service) DeleteTiddler(ctx context.Context, user *model.User, recipeName, title string) (int64, string, error) {
	if err := ValidateTitle(title); err != nil {
		return 0, "", err
	}

	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return 0, "", err
	}

	ok, err := s.CanWriteRecipe(ctx, user, recipe)
	if err != nil {
		return 0, "", err
	}
	if !ok {
		return 0, "", fmt.Errorf("delete in recipe %q: %w", recipeName, ErrPermissionDenied)
	}

	bag, _, err := s.writableBag(ctx, recipe, "")
	if err != nil {
		return 0, "", err
	}

	revision, err := s.store.TombstoneTiddler(ctx, bag.ID, title)
	if err != nil {
		return 0, "", fmt.Errorf("tombstoning tiddler: %w", err)
	}

	s.logger.Debug("tiddler tombstoned", "recipe", recipeName, "bag", bag.Name, "title", title, "revision", revision)
	s.notifyChange(ctx, bag.ID, title)
	return revision, bag.Name, nil
}

// ResolveRecipe returns the merged view of a recipe for a permitted reader.
func (s *Service) ResolveRecipe(ctx context.Context, user *model.User, recipeName string) ([]model.RecipeTiddler, error) {
	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanReadRecipe(ctx, user, recipe)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("read recipe %q: %w", recipeName, ErrPermissionDenied)
	}
	return s.store.ResolveRecipe(ctx, recipe.ID)
}

// Changes returns every merged entry that changed after the watermark.
// This backs both the polling endpoint and push-stream catch-up.
func (s *Service) Changes(ctx context.Context, user *model.User, recipeName string, since int64, includeDeleted bool) ([]model.RecipeTiddler, error) {
	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanReadRecipe(ctx, user, recipe)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("read recipe %q: %w", recipeName, ErrPermissionDenied)
	}
	return s.store.ResolveChangesSince(ctx, recipe.ID, since, includeDeleted)
}

// Status describes the caller's standing toward a recipe. ReadOnly is a
// client-side convenience; every mutation is still re-checked server-side.
type Status struct {
	Authenticated bool
	Username      string
	ReadOnly      bool
}

// RecipeStatus reports authentication and write access for a recipe.
func (s *Service) RecipeStatus(ctx context.Context, user *model.User, recipeName string) (Status, error) {
	st := Status{}
	if user != nil {
		st.Authenticated = true
		st.Username = user.Username
	}

	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return st, err
	}

	canWrite, err := s.CanWriteRecipe(ctx, user, recipe)
	if errors.Is(err, ErrComposition) {
		// A recipe without a writable layer is readable but read-only.
		st.ReadOnly = true
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.ReadOnly = !canWrite
	return st, nil
}

// Subscribe registers a push-stream subscriber after a read check.
// The caller must Unsubscribe with the returned recipe and subscriber IDs.
func (s *Service) Subscribe(ctx context.Context, user *model.User, recipeName string) (recipeID, subID string, ch <-chan Event, err error) {
	recipe, err := s.requireRecipe(ctx, recipeName)
	if err != nil {
		return "", "", nil, err
	}
	ok, err := s.CanReadRecipe(ctx, user, recipe)
	if err != nil {
		return "", "", nil, err
	}
	if !ok {
		return "", "", nil, fmt.Errorf("subscribe to recipe %q: %w", recipeName, ErrPermissionDenied)
	}

	subID, events := s.hub.Subscribe(recipe.ID)
	return recipe.ID, subID, events, nil
}

// Unsubscribe removes a push-stream subscriber.
func (s *Service) Unsubscribe(recipeID, subID string) {
	s.hub.Unsubscribe(recipeID, subID)
}

// notifyChange publishes the post-merge state of a title to every recipe
// containing the written bag. Publish failures are logged, never surfaced:
// the write has already committed.
func (s *Service) notifyChange(ctx context.Context, bagID, title string) {
	recipeIDs, err := s.store.ListRecipeIDsForBag(ctx, bagID)
	if err != nil {
		s.logger.Error("listing recipes for change event", "bag", bagID, "error", err)
		return
	}

	for _, recipeID := range recipeIDs {
		best, err := s.store.ResolveRecipeTiddler(ctx, recipeID, title)
		if err != nil {
			s.logger.Error("resolving change event", "recipe", recipeID, "title", title, "error", err)
			continue
		}
		if best == nil {
			continue
		}

		ev := Event{
			Title:      title,
			RevisionID: best.RevisionID,
			IsDeleted:  best.IsDeleted,
			BagName:    best.BagName,
		}
		if !best.IsDeleted {
			row, err := s.loadRow(ctx, best.BagID, title)
			if err != nil {
				s.logger.Error("loading change payload", "recipe", recipeID, "title", title, "error", err)
				continue
			}
			ev.Tiddler = row.Fields
		}
		s.hub.Publish(recipeID, ev)
	}
}
