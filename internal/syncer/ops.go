package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"wikid/internal/wire"
)

// ErrConflict reports that another operation on the same title is already
// in flight.
var ErrConflict = fmt.Errorf("operation already in flight for title")

func (c *Client) recipeURL(parts ...string) string {
	u := c.baseURL.JoinPath(append([]string{"recipes", c.recipe}, parts...)...)
	return u.String()
}

// tiddlerURL escapes each path segment of a title separately so that
// slashes inside titles survive routing.
func (c *Client) tiddlerURL(title string) string {
	segments := strings.Split(title, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return c.recipeURL("tiddlers") + "/" + strings.Join(segments, "/")
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// Status fetches the caller's standing toward the recipe.
func (c *Client) Status(ctx context.Context) (wire.Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.recipeURL("status"), nil)
	if err != nil {
		return wire.Status{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wire.Status{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wire.Status{}, statusError(resp)
	}

	var st wire.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return wire.Status{}, fmt.Errorf("decoding status: %w", err)
	}
	return st, nil
}

// Load fetches one tiddler's fields and revision from the server. The
// title is held in flight for the duration, so stream changes for it are
// deferred rather than racing the read.
func (c *Client) Load(ctx context.Context, title string) (map[string]string, int64, error) {
	if !c.beginOp(title, opRead) {
		return nil, 0, fmt.Errorf("load %q: %w", title, ErrConflict)
	}

	fields, revision, err := c.get(ctx, title)
	c.endOp(ctx, title, revision)
	return fields, revision, err
}

func (c *Client) get(ctx context.Context, title string) (map[string]string, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.tiddlerURL(title), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, statusError(resp)
	}

	fields := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, 0, fmt.Errorf("decoding tiddler: %w", err)
	}
	revision, _ := strconv.ParseInt(resp.Header.Get(wire.HeaderRevision), 10, 64)
	c.remember(title, revision, resp.Header.Get(wire.HeaderBagName))
	return fields, revision, nil
}

// Save writes a tiddler and returns the revision the server assigned.
func (c *Client) Save(ctx context.Context, title string, fields map[string]string) (int64, error) {
	if !c.beginOp(title, opWrite) {
		return 0, fmt.Errorf("save %q: %w", title, ErrConflict)
	}

	revision, err := c.put(ctx, title, fields)
	c.endOp(ctx, title, revision)
	return revision, err
}

func (c *Client) put(ctx context.Context, title string, fields map[string]string) (int64, error) {
	body, err := wire.EncodeTiddlerBody(fields)
	if err != nil {
		return 0, err
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.tiddlerURL(title), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", wire.TiddlerContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}

	var result wire.SaveResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding save result: %w", err)
	}
	c.remember(title, result.RevisionID, result.BagName)
	return result.RevisionID, nil
}

// Delete tombstones a tiddler on the server. A title the server never
// reported has nothing to tombstone, so no request is made.
func (c *Client) Delete(ctx context.Context, title string) (int64, error) {
	if !c.beginOp(title, opDelete) {
		return 0, fmt.Errorf("delete %q: %w", title, ErrConflict)
	}
	if !c.seen(title) {
		c.endOp(ctx, title, 0)
		return 0, nil
	}

	req, err := c.newRequest(ctx, http.MethodDelete, c.tiddlerURL(title), nil)
	if err != nil {
		c.endOp(ctx, title, 0)
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.endOp(ctx, title, 0)
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.endOp(ctx, title, 0)
		return 0, statusError(resp)
	}

	var result wire.SaveResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.endOp(ctx, title, 0)
		return 0, fmt.Errorf("decoding delete result: %w", err)
	}
	c.forget(title)
	c.endOp(ctx, title, result.RevisionID)
	return result.RevisionID, nil
}

// pollOnce fetches the delta past the watermark and applies it. Polling
// responses carry no payloads, so changed live titles are fetched
// individually before dispatch.
func (c *Client) pollOnce(ctx context.Context) error {
	c.mu.Lock()
	since := c.watermark
	c.mu.Unlock()

	u := c.recipeURL("bag-states") + "?include_deleted=true&last_known_revision_id=" + strconv.FormatInt(since, 10)
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var changes []wire.Change
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return fmt.Errorf("decoding delta: %w", err)
	}

	for _, change := range changes {
		if !change.IsDeleted && c.wantsPayload(change.Title) {
			fields, _, err := c.get(ctx, change.Title)
			if err != nil {
				c.logger.Error("fetching changed title", "title", change.Title, "error", err)
				continue
			}
			change.Tiddler = fields
		}
		c.dispatch(change)
	}
	return nil
}

// wantsPayload reports whether a change for title would actually reach
// the handler, so polling skips fetches that dispatch would drop anyway.
func (c *Client) wantsPayload(title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[title]; ok {
		return false
	}
	return c.interested == nil || c.interested(title)
}

// refetch reconciles a title whose deferred stream changes outran a local
// operation. A title gone from the server is applied as a deletion at the
// deferred revision.
func (c *Client) refetch(ctx context.Context, title string, deferred int64) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.tiddlerURL(title), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.dispatch(wire.Change{Title: title, RevisionID: deferred, IsDeleted: true})
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	fields := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return fmt.Errorf("decoding tiddler: %w", err)
	}
	revision, _ := strconv.ParseInt(resp.Header.Get(wire.HeaderRevision), 10, 64)
	c.dispatch(wire.Change{Title: title, RevisionID: revision, Tiddler: fields})
	return nil
}
