package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/wingsight/wingsight-agent/internal/gateway"
	"github.com/wingsight/wingsight-agent/internal/pkg/ctxlog"
	"github.com/wingsight/wingsight-agent/internal/pkg/metrics"
)

// Backend endpoints.
const (
	endpointList          = "get_stream_subscriptions"
	endpointAdd           = "add_stream"
	endpointDeactivate    = "deactivate_stream_subscription"
	endpointReactivate    = "reactivate_stream_subscription"
	endpointDelete        = "delete_stream_subscription"
	endpointTargetSpecies = "update_target_species"
	endpointToggleNotify  = "toggle_stream_notification"
)

const genericErrorMessage = "Unexpected error occurred. Try again later."

// Store errors.
var (
	ErrNotFound = errors.New("subscription not found")

	// ErrReconcileRejected means the server reported a status other
	// than the one the reconciliation expected; local state is left
	// unchanged.
	ErrReconcileRejected = errors.New("server rejected the operation")
)

// UserFacingError carries an alert message suitable for display.
type UserFacingError struct {
	Message string
	Err     error
}

func (e *UserFacingError) Error() string { return e.Message }

func (e *UserFacingError) Unwrap() error { return e.Err }

// Backend abstracts the gateway for the store's remote calls.
type Backend interface {
	Call(ctx context.Context, endpoint string, opts gateway.CallOptions) (*gateway.Result, error)
}

// Identity resolves the current user identifier.
type Identity interface {
	UserID() (string, error)
}

// envelope is the backend's {status, message} response shape. The
// message is either a structured object or an opaque string.
type envelope struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
}

// Store is the in-memory subscription set, keyed by id. Every mutation
// pairs a backend call with a local commit contingent on the reported
// outcome: a failed call leaves the set unchanged. Safe for concurrent
// use.
type Store struct {
	backend  Backend
	identity Identity

	mu   sync.RWMutex
	subs map[ID]Subscription
}

// NewStore creates an empty store.
func NewStore(backend Backend, identity Identity) *Store {
	return &Store{
		backend:  backend,
		identity: identity,
		subs:     make(map[ID]Subscription),
	}
}

// Load fetches the full remote list and replaces the local set
// wholesale, filtering out entries marked deleted. Called once per
// authentication transition, not on every read.
func (s *Store) Load(ctx context.Context) error {
	userID, err := s.identity.UserID()
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	result, err := s.backend.Call(ctx, endpointList, gateway.CallOptions{
		Method: http.MethodGet,
		Query:  url.Values{"user_id": {userID}},
	})
	if err != nil {
		return fmt.Errorf("fetch subscriptions: %w", err)
	}

	var env envelope
	if err := result.Decode(&env); err != nil {
		return fmt.Errorf("fetch subscriptions: %w", err)
	}

	var msg struct {
		All []Subscription `json:"all_stream_subscriptions"`
	}
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		return fmt.Errorf("decode subscription list: %w", err)
	}

	subs := make(map[ID]Subscription, len(msg.All))
	for _, sub := range msg.All {
		if sub.IsDeleted {
			continue
		}
		subs[sub.ID] = sub
	}

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
	metrics.RecordStoreSize(len(subs))

	ctxlog.FromContext(ctx).Info("subscriptions loaded", "count", len(subs))
	return nil
}

// Add creates a subscription on the backend and inserts the
// server-returned record on a "created" status. An "error" status
// yields a user-facing message extracted from the payload; any other
// status is surfaced generically.
func (s *Store) Add(ctx context.Context, streamURL string, frameFetchFrequency int, provideNotification bool) (*Subscription, error) {
	userID, err := s.identity.UserID()
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	result, err := s.backend.Call(ctx, endpointAdd, gateway.CallOptions{
		Body: map[string]interface{}{
			"url":                   streamURL,
			"frame_fetch_frequency": frameFetchFrequency,
			"user_id":               userID,
			"provide_notification":  provideNotification,
		},
	})
	if err != nil {
		return nil, s.asUserFacing(ctx, err)
	}

	var env envelope
	if err := result.Decode(&env); err != nil {
		return nil, fmt.Errorf("add stream: %w", err)
	}

	switch env.Status {
	case "created":
		var sub Subscription
		if err := json.Unmarshal(env.Message, &sub); err != nil {
			return nil, fmt.Errorf("decode created subscription: %w", err)
		}

		s.mu.Lock()
		s.subs[sub.ID] = sub
		size := len(s.subs)
		s.mu.Unlock()
		metrics.RecordStoreSize(size)

		return &sub, nil

	case "error":
		return nil, &UserFacingError{Message: extractMessage(env.Message)}

	default:
		ctxlog.FromContext(ctx).Error("unexpected add_stream status",
			"status", env.Status,
			"payload", string(env.Message),
		)
		return nil, &UserFacingError{Message: genericErrorMessage}
	}
}

// ToggleActivation flips a subscription between active and inactive.
// The local copy is replaced with the flipped value only when the
// server reports the matching status; on any other outcome the local
// state is untouched and the rejection is returned.
func (s *Store) ToggleActivation(ctx context.Context, id ID) (*Subscription, error) {
	sub, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	endpoint, expected := endpointReactivate, "reactivated"
	if sub.IsActive {
		endpoint, expected = endpointDeactivate, "deactivated"
	}

	env, err := s.reconcile(ctx, endpoint, id)
	if err != nil {
		return nil, err
	}

	if env.Status != expected {
		ctxlog.FromContext(ctx).Warn("activation toggle rejected",
			"subscription_id", id,
			"expected", expected,
			"status", env.Status,
		)
		return nil, fmt.Errorf("%w: status %q", ErrReconcileRejected, env.Status)
	}

	updated := sub
	updated.IsActive = !sub.IsActive

	s.replace(updated)
	return &updated, nil
}

// Delete removes a subscription. Local removal happens only if the
// server reports a "deleted" status; otherwise the set is unchanged.
func (s *Store) Delete(ctx context.Context, id ID) error {
	if _, ok := s.Get(id); !ok {
		return ErrNotFound
	}

	env, err := s.reconcile(ctx, endpointDelete, id)
	if err != nil {
		return err
	}

	if env.Status != "deleted" {
		ctxlog.FromContext(ctx).Warn("delete rejected",
			"subscription_id", id,
			"status", env.Status,
		)
		return fmt.Errorf("%w: status %q", ErrReconcileRejected, env.Status)
	}

	s.mu.Lock()
	delete(s.subs, id)
	size := len(s.subs)
	s.mu.Unlock()
	metrics.RecordStoreSize(size)

	return nil
}

// SetTargetSpecies updates the species filter for a subscription.
// "updated" commits the requested list; "partial_update" commits
// whatever the server reports it actually stored.
func (s *Store) SetTargetSpecies(ctx context.Context, id ID, species []string) (*Subscription, error) {
	sub, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	userID, err := s.identity.UserID()
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	result, err := s.backend.Call(ctx, endpointTargetSpecies, gateway.CallOptions{
		Body: map[string]interface{}{
			"user_id":                userID,
			"stream_subscription_id": string(id),
			"target_species":         species,
		},
	})
	if err != nil {
		return nil, s.asUserFacing(ctx, err)
	}

	var env envelope
	if err := result.Decode(&env); err != nil {
		return nil, fmt.Errorf("update target species: %w", err)
	}

	updated := sub
	switch env.Status {
	case "updated":
		updated.TargetSpecies = species
	case "partial_update":
		var msg struct {
			Stored []string `json:"stored_species"`
		}
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return nil, fmt.Errorf("decode stored species: %w", err)
		}
		updated.TargetSpecies = msg.Stored
	default:
		return nil, fmt.Errorf("%w: status %q", ErrReconcileRejected, env.Status)
	}

	s.replace(updated)
	return &updated, nil
}

// ToggleNotification flips per-stream notification delivery. The local
// copy follows the server's reported new value.
func (s *Store) ToggleNotification(ctx context.Context, id ID) (*Subscription, error) {
	sub, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	result, err := s.backend.Call(ctx, endpointToggleNotify, gateway.CallOptions{
		Body: map[string]interface{}{
			"subscription_id": string(id),
		},
	})
	if err != nil {
		return nil, s.asUserFacing(ctx, err)
	}

	var resp struct {
		Status   string `json:"status"`
		NewValue bool   `json:"new_value"`
	}
	if err := result.Decode(&resp); err != nil {
		return nil, fmt.Errorf("toggle notification: %w", err)
	}

	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrReconcileRejected, resp.Status)
	}

	updated := sub
	updated.ProvideNotification = resp.NewValue

	s.replace(updated)
	return &updated, nil
}

// replace swaps in an updated copy of an existing subscription.
func (s *Store) replace(sub Subscription) {
	s.mu.Lock()
	s.subs[sub.ID] = sub
	size := len(s.subs)
	s.mu.Unlock()
	metrics.RecordStoreSize(size)
}

// Clear drops the local set on sign-out.
func (s *Store) Clear() {
	s.mu.Lock()
	s.subs = make(map[ID]Subscription)
	s.mu.Unlock()
	metrics.RecordStoreSize(0)
}

// Get returns the subscription with the given id.
func (s *Store) Get(id ID) (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	return sub, ok
}

// List returns a snapshot of the set, ordered by id.
func (s *Store) List() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

// Len returns the current set size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// reconcile issues the common {user_id, stream_subscription_id} call
// shared by the deactivate/reactivate/delete endpoints.
func (s *Store) reconcile(ctx context.Context, endpoint string, id ID) (*envelope, error) {
	userID, err := s.identity.UserID()
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	result, err := s.backend.Call(ctx, endpoint, gateway.CallOptions{
		Body: map[string]interface{}{
			"user_id":                userID,
			"stream_subscription_id": string(id),
		},
	})
	if err != nil {
		return nil, s.asUserFacing(ctx, err)
	}

	var env envelope
	if err := result.Decode(&env); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return &env, nil
}

// asUserFacing turns a gateway failure into something displayable. A
// server rejection may still carry a {status:"error"} envelope with a
// usable description; transport failures get the generic message.
func (s *Store) asUserFacing(ctx context.Context, err error) error {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		return err
	}

	if gwErr.Transport() {
		ctxlog.FromContext(ctx).Error("backend unreachable", "error", err)
		return &UserFacingError{Message: genericErrorMessage, Err: err}
	}

	var env envelope
	if jsonErr := json.Unmarshal([]byte(gwErr.Body), &env); jsonErr == nil && env.Status == "error" {
		return &UserFacingError{Message: extractMessage(env.Message), Err: err}
	}

	return &UserFacingError{Message: genericErrorMessage, Err: err}
}

// extractMessage pulls a displayable string out of an error payload:
// either {"error_description": "..."} or a bare string.
func extractMessage(raw json.RawMessage) string {
	var obj struct {
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ErrorDescription != "" {
		return obj.ErrorDescription
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}

	return genericErrorMessage
}
