package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wingsight/wingsight-agent/internal/gateway"
)

const endpointRecognitions = "get_all_stream_subscription_recognitions"

// Recognition is one bird sighting recorded against a subscription.
// The thumbnail URL is presigned by the backend and expires; entries
// are display data, not durable records.
type Recognition struct {
	SpeciesName  string `json:"recognized_specie_name"`
	Timestamp    string `json:"earth_timestamp"`
	ThumbnailURL string `json:"presigned_thumbnail_url"`
}

// DisplayName returns the species name in title case for presentation.
func (r Recognition) DisplayName() string {
	return cases.Title(language.English).String(r.SpeciesName)
}

// History fetches recognition entries per subscription and caches them
// for the lifetime of the session. The backend list is append-only, so
// a cached result stays valid until sign-out.
type History struct {
	backend  Backend
	identity Identity

	mu    sync.Mutex
	cache map[ID][]Recognition
}

// NewHistory creates an empty recognition history.
func NewHistory(backend Backend, identity Identity) *History {
	return &History{
		backend:  backend,
		identity: identity,
		cache:    make(map[ID][]Recognition),
	}
}

// Entries returns the recognitions for a subscription, fetching from
// the backend on first access.
func (h *History) Entries(ctx context.Context, id ID) ([]Recognition, error) {
	h.mu.Lock()
	if cached, ok := h.cache[id]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	userID, err := h.identity.UserID()
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	result, err := h.backend.Call(ctx, endpointRecognitions, gateway.CallOptions{
		Method: http.MethodGet,
		Query: url.Values{
			"user_id":                {userID},
			"stream_subscription_id": {string(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch recognitions: %w", err)
	}

	var env envelope
	if err := result.Decode(&env); err != nil {
		return nil, fmt.Errorf("fetch recognitions: %w", err)
	}

	var msg struct {
		All []Recognition `json:"all_recognition_entries"`
	}
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		return nil, fmt.Errorf("decode recognition entries: %w", err)
	}

	entries := msg.All
	if entries == nil {
		entries = []Recognition{}
	}

	h.mu.Lock()
	h.cache[id] = entries
	h.mu.Unlock()

	return entries, nil
}

// Clear drops all cached entries on sign-out.
func (h *History) Clear() {
	h.mu.Lock()
	h.cache = make(map[ID][]Recognition)
	h.mu.Unlock()
}
