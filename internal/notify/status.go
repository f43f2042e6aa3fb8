package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/wingsight/wingsight-agent/internal/gateway"
)

const endpointManage = "manage_subscription"

// Push subscription states as reported by the backend.
const (
	PushStatusNone      = "none"
	PushStatusPending   = "pending"
	PushStatusConfirmed = "confirmed"
)

// Backend abstracts the gateway for push subscription management.
type Backend interface {
	Call(ctx context.Context, endpoint string, opts gateway.CallOptions) (*gateway.Result, error)
}

// Identity resolves the current user identifier.
type Identity interface {
	UserID() (string, error)
}

// PushManager tracks the user's enrollment in backend-delivered push
// notifications. Enrollment moves none -> pending -> confirmed; the
// confirmation step happens out of band.
type PushManager struct {
	backend  Backend
	identity Identity
}

// NewPushManager creates a push subscription manager.
func NewPushManager(backend Backend, identity Identity) *PushManager {
	return &PushManager{backend: backend, identity: identity}
}

// Status returns the current enrollment state.
func (m *PushManager) Status(ctx context.Context) (string, error) {
	userID, err := m.identity.UserID()
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}

	result, err := m.backend.Call(ctx, endpointManage, gateway.CallOptions{
		Method: http.MethodGet,
		Query:  url.Values{"user_id": {userID}},
	})
	if err != nil {
		return "", fmt.Errorf("fetch push status: %w", err)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := result.Decode(&resp); err != nil {
		return "", fmt.Errorf("fetch push status: %w", err)
	}

	switch resp.Status {
	case PushStatusNone, PushStatusPending, PushStatusConfirmed:
		return resp.Status, nil
	default:
		return "", fmt.Errorf("unknown push status %q", resp.Status)
	}
}

// Subscribe requests enrollment. The state becomes pending until the
// user confirms out of band.
func (m *PushManager) Subscribe(ctx context.Context) error {
	return m.manage(ctx, "subscribe")
}

// Unsubscribe withdraws enrollment.
func (m *PushManager) Unsubscribe(ctx context.Context) error {
	return m.manage(ctx, "unsubscribe")
}

func (m *PushManager) manage(ctx context.Context, action string) error {
	userID, err := m.identity.UserID()
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	_, err = m.backend.Call(ctx, endpointManage, gateway.CallOptions{
		Body: map[string]interface{}{
			"user_id": userID,
			"action":  action,
		},
	})
	if err != nil {
		return fmt.Errorf("%s push notifications: %w", action, err)
	}
	return nil
}
