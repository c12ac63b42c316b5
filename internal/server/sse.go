package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wikid/internal/model"
	"wikid/internal/wiki"
	"wikid/internal/wire"
)

// handleEvents serves the push stream as server-sent events. The stream
// subscribes first and then replays changes past the client's watermark,
// so nothing written in between is lost; a change may arrive twice, which
// clients absorb by applying revisions idempotently.
func (s *Server) handleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	var since int64
	if raw := c.Query("last_known_revision_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_known_revision_id"})
			return
		}
		since = parsed
	}

	ctx := c.Request.Context()
	user := identity(c)
	recipeName := c.Param("recipe")

	recipeID, subID, events, err := s.svc.Subscribe(ctx, user, recipeName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer s.svc.Unsubscribe(recipeID, subID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	if err := s.replayChanges(c, user, recipeName, since, flusher); err != nil {
		s.logger.Error("push catch-up failed", "recipe", recipeName, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// The hub dropped us as a slow subscriber; the client
				// reconnects and catches up from its watermark.
				return
			}
			if err := s.writeEvent(c, flusher, wire.Change{
				Title:      ev.Title,
				RevisionID: ev.RevisionID,
				IsDeleted:  ev.IsDeleted,
				BagName:    ev.BagName,
				Tiddler:    ev.Tiddler,
			}); err != nil {
				return
			}
		}
	}
}

// replayChanges emits everything past the watermark, including payloads,
// so a reconnecting client needs no separate poll.
func (s *Server) replayChanges(c *gin.Context, user *model.User, recipeName string, since int64, flusher http.Flusher) error {
	ctx := c.Request.Context()
	changes, err := s.svc.Changes(ctx, user, recipeName, since, true)
	if err != nil {
		return err
	}

	for _, ch := range changes {
		change := wire.Change{
			Title:      ch.Title,
			RevisionID: ch.RevisionID,
			IsDeleted:  ch.IsDeleted,
			BagName:    ch.BagName,
		}
		if !ch.IsDeleted {
			tiddler, _, err := s.svc.LoadTiddler(ctx, user, recipeName, ch.Title)
			if err != nil {
				if errors.Is(err, wiki.ErrNotFound) {
					// Deleted between the delta and the load; the
					// tombstone event follows on the live stream.
					continue
				}
				return err
			}
			change.Tiddler = tiddler.Fields
		}
		if err := s.writeEvent(c, flusher, change); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) writeEvent(c *gin.Context, flusher http.Flusher, change wire.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", wire.EventName, payload); err != nil {
		return err
	}
	flusher.Flush()
	if s.metrics != nil {
		s.metrics.PushEvent()
	}
	return nil
}
