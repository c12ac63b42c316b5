package wiki

import "sync"

// Event is one change emitted to push-stream subscribers of a recipe.
// Tiddler carries the full field map on create/update so subscribers need
// no follow-up fetch; it is nil for deletions.
type Event struct {
	Title      string
	RevisionID int64
	IsDeleted  bool
	BagName    string
	Tiddler    map[string]string
}

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind is dropped and must resync via polling.
const subscriberBuffer = 64

// Hub fans change events out to push-stream subscribers. Each subscriber
// has an independent buffered queue so a slow or disconnected consumer
// never stalls the write path: when a queue is full the subscriber is
// dropped and its channel closed.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[string]chan Event // recipe ID -> subscriber ID -> queue
	idgen  IDGenerator
	logger Logger
}

// NewHub creates an empty hub.
func NewHub(idgen IDGenerator, logger Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[string]chan Event),
		idgen:  idgen,
		logger: logger,
	}
}

// Subscribe registers a new subscriber for a recipe and returns its ID and
// event queue. The queue is closed when the subscriber is dropped.
func (h *Hub) Subscribe(recipeID string) (string, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.idgen.New()
	ch := make(chan Event, subscriberBuffer)
	if h.subs[recipeID] == nil {
		h.subs[recipeID] = make(map[string]chan Event)
	}
	h.subs[recipeID][id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber. Safe to call after the subscriber was
// already dropped.
func (h *Hub) Unsubscribe(recipeID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[recipeID][id]; ok {
		delete(h.subs[recipeID], id)
		close(ch)
	}
	if len(h.subs[recipeID]) == 0 {
		delete(h.subs, recipeID)
	}
}

// Publish delivers an event to every current subscriber of a recipe without
// blocking. A subscriber whose queue is full is dropped; its closed channel
// tells the stream handler to end the connection, and the client catches up
// with its watermark.
func (h *Hub) Publish(recipeID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[recipeID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping slow push subscriber", "recipe", recipeID, "subscriber", id)
			delete(h.subs[recipeID], id)
			close(ch)
		}
	}
}

// SubscriberCount returns the number of live subscribers across all recipes.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}
