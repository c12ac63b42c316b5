package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"wikid/internal/wiki"
	"wikid/internal/wire"
)

// maxTiddlerBody caps a single PUT payload at 64 MiB.
const maxTiddlerBody = 64 << 20

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wiki.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, wiki.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, wiki.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, wiki.ErrComposition), errors.Is(err, wiki.ErrInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// titleParam extracts the tiddler title from the wildcard segment. The
// wildcard keeps its leading slash; titles themselves may contain slashes.
func titleParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("title"), "/")
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials payload"})
		return
	}

	session, err := s.svc.Login(c.Request.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, wiki.ErrPermissionDenied) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		s.writeError(c, err)
		return
	}

	c.SetCookie(sessionCookie, session.Token, 0, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": session.Token})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.svc.RecipeStatus(c.Request.Context(), identity(c), c.Param("recipe"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.Status{
		Authenticated: st.Authenticated,
		Username:      st.Username,
		ReadOnly:      st.ReadOnly,
	})
}

func (s *Server) handleBagStates(c *gin.Context) {
	var since int64
	if raw := c.Query("last_known_revision_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_known_revision_id"})
			return
		}
		since = parsed
	}
	includeDeleted := c.Query("include_deleted") == "true"

	changes, err := s.svc.Changes(c.Request.Context(), identity(c), c.Param("recipe"), since, includeDeleted)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Poll()
	}

	out := make([]wire.Change, 0, len(changes))
	for _, ch := range changes {
		out = append(out, wire.Change{
			Title:      ch.Title,
			RevisionID: ch.RevisionID,
			IsDeleted:  ch.IsDeleted,
			BagName:    ch.BagName,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTiddler(c *gin.Context) {
	tiddler, bagName, err := s.svc.LoadTiddler(c.Request.Context(), identity(c), c.Param("recipe"), titleParam(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header(wire.HeaderRevision, strconv.FormatInt(tiddler.RevisionID, 10))
	c.Header(wire.HeaderBagName, bagName)
	c.JSON(http.StatusOK, tiddler.Fields)
}

func (s *Server) handlePutTiddler(c *gin.Context) {
	fields, err := readTiddlerBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	revision, bagName, err := s.svc.SaveTiddler(c.Request.Context(), identity(c), c.Param("recipe"), titleParam(c), fields)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Write()
	}

	c.Header(wire.HeaderRevision, strconv.FormatInt(revision, 10))
	c.Header(wire.HeaderBagName, bagName)
	c.JSON(http.StatusOK, wire.SaveResult{RevisionID: revision, BagName: bagName})
}

// readTiddlerBody accepts either the hybrid fields-then-text encoding or a
// plain JSON field object.
func readTiddlerBody(c *gin.Context) (map[string]string, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTiddlerBody))
	if err != nil {
		return nil, err
	}

	contentType := c.ContentType()
	if contentType == wire.TiddlerContentType {
		return wire.DecodeTiddlerBody(body)
	}
	fields := make(map[string]string)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *Server) handleDeleteTiddler(c *gin.Context) {
	revision, bagName, err := s.svc.DeleteTiddler(c.Request.Context(), identity(c), c.Param("recipe"), titleParam(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Tombstone()
	}

	c.Header(wire.HeaderRevision, strconv.FormatInt(revision, 10))
	c.Header(wire.HeaderBagName, bagName)
	c.JSON(http.StatusOK, wire.SaveResult{RevisionID: revision, BagName: bagName})
}
