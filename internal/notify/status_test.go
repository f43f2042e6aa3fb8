package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingsight/wingsight-agent/internal/gateway"
)

type staticIdentity struct {
	id string
}

func (s staticIdentity) UserID() (string, error) { return s.id, nil }

type fakeBackend struct {
	response string
	err      error
	endpoint string
	opts     gateway.CallOptions
}

func (f *fakeBackend) Call(_ context.Context, endpoint string, opts gateway.CallOptions) (*gateway.Result, error) {
	f.endpoint = endpoint
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Result{StatusCode: 200, Body: []byte(f.response)}, nil
}

func TestPushManager_Status(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
		wantErr  bool
	}{
		{name: "none", response: `{"status":"none"}`, expected: PushStatusNone},
		{name: "pending", response: `{"status":"pending"}`, expected: PushStatusPending},
		{name: "confirmed", response: `{"status":"confirmed"}`, expected: PushStatusConfirmed},
		{name: "unknown status rejected", response: `{"status":"weird"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{response: tt.response}
			manager := NewPushManager(backend, staticIdentity{id: "user-1"})

			status, err := manager.Status(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
			assert.Equal(t, "user-1", backend.opts.Query.Get("user_id"))
		})
	}
}

func TestPushManager_SubscribeSendsAction(t *testing.T) {
	backend := &fakeBackend{response: `{"status":"pending"}`}
	manager := NewPushManager(backend, staticIdentity{id: "user-1"})

	require.NoError(t, manager.Subscribe(context.Background()))

	assert.Equal(t, endpointManage, backend.endpoint)
	body := backend.opts.Body.(map[string]interface{})
	assert.Equal(t, "subscribe", body["action"])
	assert.Equal(t, "user-1", body["user_id"])
}

func TestPushManager_UnsubscribeSendsAction(t *testing.T) {
	backend := &fakeBackend{response: `{"status":"none"}`}
	manager := NewPushManager(backend, staticIdentity{id: "user-1"})

	require.NoError(t, manager.Unsubscribe(context.Background()))

	body := backend.opts.Body.(map[string]interface{})
	assert.Equal(t, "unsubscribe", body["action"])
}
