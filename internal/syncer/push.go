package syncer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wikid/internal/wire"
)

// runPush owns one push-stream lifetime. A failed or dropped stream is
// followed by a single polling pass, then the adaptor returns to
// not-connected; the caller's next Sync decides when to retry.
func (c *Client) runPush(ctx context.Context) {
	err := c.streamEvents(ctx)

	if ctx.Err() != nil {
		c.setState(StateNotConnected)
		return
	}

	if err != nil {
		c.logger.Warn("push stream ended", "recipe", c.recipe, "error", err)
	}
	c.setState(StatePolling)
	if err := c.pollOnce(ctx); err != nil {
		c.logger.Error("fallback poll failed", "recipe", c.recipe, "error", err)
	}
	c.setState(StateNotConnected)
}

// streamEvents connects to the server-sent-events endpoint and dispatches
// change events until the stream breaks or ctx is cancelled.
func (c *Client) streamEvents(ctx context.Context) error {
	c.mu.Lock()
	since := c.watermark
	c.mu.Unlock()

	u := c.recipeURL("events") + "?last_known_revision_id=" + strconv.FormatInt(since, 10)
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	c.setState(StateConnectedPush)
	c.logger.Info("push stream connected", "recipe", c.recipe, "since", since)

	var eventName string
	var data strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTiddlerEvent)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName == wire.EventName && data.Len() > 0 {
				c.handleEvent(data.String())
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// maxTiddlerEvent bounds a single event frame; payloads beyond this break
// the stream and force a resync.
const maxTiddlerEvent = 64 << 20

// handleEvent parses one change frame. Malformed frames are discarded
// without advancing the watermark, so their revisions are recovered by
// the next poll or reconnect.
func (c *Client) handleEvent(payload string) {
	var change wire.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		c.logger.Warn("discarding malformed change event", "error", err)
		return
	}
	if change.Title == "" || change.RevisionID <= 0 {
		c.logger.Warn("discarding incomplete change event", "title", change.Title, "revision", change.RevisionID)
		return
	}
	c.dispatch(change)
}
