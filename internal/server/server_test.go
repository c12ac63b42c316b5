package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikid/internal/database"
	"wikid/internal/model"
	"wikid/internal/server"
	"wikid/internal/testutil"
	"wikid/internal/wiki"
	"wikid/internal/wire"
)

// newTestServer builds a server over an in-memory store with a two-layer
// recipe "wiki" (writable "drafts" over "core").
func newTestServer(t *testing.T, anon wiki.AnonymousAccess) (*server.Server, *wiki.Service, *database.Store) {
	t.Helper()

	svc, store := testutil.NewTestService(t, anon)
	drafts := testutil.CreateBag(t, store, "drafts", "")
	core := testutil.CreateBag(t, store, "core", "")
	testutil.CreateRecipe(t, store, "wiki", "", drafts, core)

	srv := server.New(svc, wiki.NewNopLogger(), ":0", server.Options{EnablePush: true, EnableMetrics: true})
	return srv, svc, store
}

func doRequest(srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	srv, svc, _ := newTestServer(t, wiki.AnonymousAccess{Read: true})

	t.Run("anonymous reader is read-only", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/wiki/status", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var st wire.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.False(t, st.Authenticated)
		assert.True(t, st.ReadOnly)
	})

	t.Run("bearer token authenticates", func(t *testing.T) {
		ctx := context.Background()
		_, err := svc.RegisterUser(ctx, nil, "alice", "pw", []string{model.RoleUser})
		require.NoError(t, err)
		session, err := svc.Login(ctx, "alice", "pw")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/recipes/wiki/status", nil)
		req.Header.Set("Authorization", "Bearer "+session.Token)
		w := doRequest(srv, req)
		require.Equal(t, http.StatusOK, w.Code)

		var st wire.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.True(t, st.Authenticated)
		assert.Equal(t, "alice", st.Username)
	})

	t.Run("unknown recipe is 404", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/absent/status", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTiddlerEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, wiki.AnonymousAccess{Write: true})

	t.Run("hybrid put and get round trip", func(t *testing.T) {
		body, err := wire.EncodeTiddlerBody(map[string]string{
			"tags": "greeting",
			"text": "hello there",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/recipes/wiki/tiddlers/HelloThere", bytes.NewReader(body))
		req.Header.Set("Content-Type", wire.TiddlerContentType)
		w := doRequest(srv, req)
		require.Equal(t, http.StatusOK, w.Code)

		var saved wire.SaveResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
		assert.Equal(t, "drafts", saved.BagName)
		assert.Positive(t, saved.RevisionID)
		assert.Equal(t, strconv.FormatInt(saved.RevisionID, 10), w.Header().Get(wire.HeaderRevision))
		assert.Equal(t, "drafts", w.Header().Get(wire.HeaderBagName))

		w = doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/wiki/tiddlers/HelloThere", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var fields map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
		assert.Equal(t, "hello there", fields["text"])
		assert.Equal(t, "HelloThere", fields["title"])
		assert.Equal(t, strconv.FormatInt(saved.RevisionID, 10), w.Header().Get(wire.HeaderRevision))
	})

	t.Run("plain JSON put", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/recipes/wiki/tiddlers/Plain",
			bytes.NewReader([]byte(`{"text":"json body"}`)))
		req.Header.Set("Content-Type", "application/json")
		w := doRequest(srv, req)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("titles may contain slashes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/recipes/wiki/tiddlers/journal/2024/01",
			bytes.NewReader([]byte(`{"text":"entry"}`)))
		req.Header.Set("Content-Type", "application/json")
		w := doRequest(srv, req)
		require.Equal(t, http.StatusOK, w.Code)

		w = doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/wiki/tiddlers/journal/2024/01", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var fields map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
		assert.Equal(t, "journal/2024/01", fields["title"])
	})

	t.Run("delete then get is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/recipes/wiki/tiddlers/Doomed",
			bytes.NewReader([]byte(`{"text":"x"}`)))
		req.Header.Set("Content-Type", "application/json")
		require.Equal(t, http.StatusOK, doRequest(srv, req).Code)

		w := doRequest(srv, httptest.NewRequest(http.MethodDelete, "/recipes/wiki/tiddlers/Doomed", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var deleted wire.SaveResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deleted))
		assert.Positive(t, deleted.RevisionID)

		w = doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/wiki/tiddlers/Doomed", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing tiddler is 404", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/wiki/tiddlers/Absent", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWriteRequiresPermission(t *testing.T) {
	srv, _, _ := newTestServer(t, wiki.AnonymousAccess{Read: true})

	req := httptest.NewRequest(http.MethodPut, "/recipes/wiki/tiddlers/Nope",
		bytes.NewReader([]byte(`{"text":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := doRequest(srv, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(srv, httptest.NewRequest(http.MethodDelete, "/recipes/wiki/tiddlers/Nope", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBagStatesEndpoint(t *testing.T) {
	srv, svc, _ := newTestServer(t, wiki.AnonymousAccess{Write: true})
	ctx := context.Background()

	rev1, _, err := svc.SaveTiddler(ctx, nil, "wiki", "one", map[string]string{"text": "1"})
	require.NoError(t, err)
	rev2, _, err := svc.SaveTiddler(ctx, nil, "wiki", "two", map[string]string{"text": "2"})
	require.NoError(t, err)
	_, _, err = svc.DeleteTiddler(ctx, nil, "wiki", "one")
	require.NoError(t, err)

	t.Run("full delta includes tombstones when asked", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet,
			"/recipes/wiki/bag-states?include_deleted=true&last_known_revision_id=0", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var changes []wire.Change
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &changes))
		require.Len(t, changes, 2)

		byTitle := map[string]wire.Change{}
		for _, ch := range changes {
			byTitle[ch.Title] = ch
			assert.Nil(t, ch.Tiddler, "polling responses carry no payload")
		}
		assert.True(t, byTitle["one"].IsDeleted)
		assert.False(t, byTitle["two"].IsDeleted)
		assert.Equal(t, rev2, byTitle["two"].RevisionID)
	})

	t.Run("deleted entries are hidden by default", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet, "/recipes/wiki/bag-states", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var changes []wire.Change
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &changes))
		require.Len(t, changes, 1)
		assert.Equal(t, "two", changes[0].Title)
	})

	t.Run("watermark bounds the delta", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet,
			"/recipes/wiki/bag-states?last_known_revision_id="+strconv.FormatInt(rev1, 10), nil))
		require.Equal(t, http.StatusOK, w.Code)

		var changes []wire.Change
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &changes))
		require.Len(t, changes, 1)
		assert.Equal(t, "two", changes[0].Title)
	})

	t.Run("invalid watermark is 400", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet,
			"/recipes/wiki/bag-states?last_known_revision_id=bogus", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLoginEndpoint(t *testing.T) {
	srv, svc, _ := newTestServer(t, wiki.AnonymousAccess{})
	_, err := svc.RegisterUser(context.Background(), nil, "alice", "s3cret", nil)
	require.NoError(t, err)

	t.Run("valid credentials return a token", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodPost, "/auth/login",
			bytes.NewReader([]byte(`{"username":"alice","password":"s3cret"}`))))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
	})

	t.Run("wrong password is 401", func(t *testing.T) {
		w := doRequest(srv, httptest.NewRequest(http.MethodPost, "/auth/login",
			bytes.NewReader([]byte(`{"username":"alice","password":"wrong"}`))))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestReadRequiresPermission(t *testing.T) {
	// No anonymous toggles: every recipe endpoint should deny.
	srv, _, _ := newTestServer(t, wiki.AnonymousAccess{})

	for _, path := range []string{
		"/recipes/wiki/bag-states",
		"/recipes/wiki/tiddlers/Index",
		"/recipes/wiki/events",
	} {
		w := doRequest(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}
