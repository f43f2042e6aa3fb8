package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingsight/wingsight-agent/internal/gateway"
	"github.com/wingsight/wingsight-agent/internal/notify"
	"github.com/wingsight/wingsight-agent/internal/session"
	"github.com/wingsight/wingsight-agent/internal/subscriptions"
)

// fakeBackend returns canned responses per endpoint.
type fakeBackend struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: make(map[string]string),
		errs:      make(map[string]error),
	}
}

func (f *fakeBackend) Call(_ context.Context, endpoint string, _ gateway.CallOptions) (*gateway.Result, error) {
	f.calls = append(f.calls, endpoint)
	if err, ok := f.errs[endpoint]; ok {
		return nil, err
	}
	resp, ok := f.responses[endpoint]
	if !ok {
		resp = `{"status":"ok"}`
	}
	return &gateway.Result{StatusCode: 200, Body: []byte(resp)}, nil
}

type idleFeed struct{}

func (idleFeed) Fetch(context.Context) (*notify.FeedEvent, error) { return nil, nil }

type harness struct {
	router  chi.Router
	backend *fakeBackend
	store   *subscriptions.Store
	poller  *notify.Poller
	session *session.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backend := newFakeBackend()

	sess := session.New()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)
	sess.SetTokens(session.Tokens{IDToken: session.IDToken{Value: token}})

	store := subscriptions.NewStore(backend, sess)
	history := subscriptions.NewHistory(backend, sess)
	poller := notify.NewPoller(notify.DefaultConfig(), idleFeed{}, store, notify.NopPlayer{})
	push := notify.NewPushManager(backend, sess)

	handler := NewHandler(store, history, poller, push, sess, backend, "")

	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)

	t.Cleanup(poller.Stop)

	return &harness{
		router:  router,
		backend: backend,
		store:   store,
		poller:  poller,
		session: sess,
	}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) seed(id subscriptions.ID, active bool) {
	h.backend.responses["get_stream_subscriptions"] = `{
		"status": "fetched",
		"message": {"all_stream_subscriptions": [
			{"id": "` + string(id) + `", "url": "https://youtu.be/x", "is_active": ` + boolJSON(active) + `}
		]}
	}`
	_ = h.store.Load(context.Background())
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestListStreams(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)

	rec := h.do(t, http.MethodGet, "/api/streams", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []subscriptions.Subscription `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, subscriptions.ID("1"), resp.Data[0].ID)
}

func TestAddStream(t *testing.T) {
	h := newHarness(t)
	h.backend.responses["add_stream"] = `{
		"status": "created",
		"message": {"id": 5, "url": "https://youtu.be/x", "is_active": true}
	}`

	rec := h.do(t, http.MethodPost, "/api/streams", AddStreamRequest{
		URL:                 "https://youtu.be/x",
		FrameFetchFrequency: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, h.store.Len())
}

func TestAddStream_ValidationError(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/streams", AddStreamRequest{
		URL:                 "not a url",
		FrameFetchFrequency: 60,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.backend.calls, "validation failures must not reach the backend")
}

func TestAddStream_InvalidJSON(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/streams", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddStream_BackendRejection(t *testing.T) {
	h := newHarness(t)
	h.backend.responses["add_stream"] = `{
		"status": "error",
		"message": {"error_description": "Stream is already tracked."}
	}`

	rec := h.do(t, http.MethodPost, "/api/streams", AddStreamRequest{
		URL:                 "https://youtu.be/x",
		FrameFetchFrequency: 60,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Stream is already tracked.")
}

func TestDeleteStream(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.backend.responses["delete_stream_subscription"] = `{"status":"deleted","message":"ok"}`

	rec := h.do(t, http.MethodDelete, "/api/streams/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, h.store.Len())
}

func TestDeleteStream_NotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodDelete, "/api/streams/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleStream(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.backend.responses["deactivate_stream_subscription"] = `{"status":"deactivated","message":"ok"}`

	rec := h.do(t, http.MethodPost, "/api/streams/1/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sub, _ := h.store.Get("1")
	assert.False(t, sub.IsActive)
}

func TestToggleStream_RejectionIsConflict(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.backend.responses["deactivate_stream_subscription"] = `{"status":"error","message":"nope"}`

	rec := h.do(t, http.MethodPost, "/api/streams/1/toggle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	sub, _ := h.store.Get("1")
	assert.True(t, sub.IsActive, "rejected toggle must not change local state")
}

func TestUpdateSpecies(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.backend.responses["update_target_species"] = `{"status":"updated","message":{}}`

	rec := h.do(t, http.MethodPut, "/api/streams/1/species", UpdateSpeciesRequest{
		Species: []string{"blue jay"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sub, _ := h.store.Get("1")
	assert.Equal(t, []string{"blue jay"}, sub.TargetSpecies)
}

func TestToggleNotification(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.backend.responses["toggle_stream_notification"] = `{"status":"success","new_value":true}`

	rec := h.do(t, http.MethodPost, "/api/streams/1/notification", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sub, _ := h.store.Get("1")
	assert.True(t, sub.ProvideNotification)
}

func TestGetRecognitions(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.backend.responses["get_all_stream_subscription_recognitions"] = `{
		"status": "fetched",
		"message": {"all_recognition_entries": [
			{"recognized_specie_name": "blue jay", "earth_timestamp": "2026-08-20 14:03:11"}
		]}
	}`

	rec := h.do(t, http.MethodGet, "/api/streams/1/recognitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blue jay")
}

func TestGetRecognitions_UnknownStream(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/streams/9/recognitions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/notifications/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopped")

	rec = h.do(t, http.MethodPost, "/api/notifications/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = h.do(t, http.MethodPost, "/api/notifications/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopped")
}

func TestCurrentNotification_NoneVisible(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/notifications/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data *notify.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Data)
}

func TestPushStatus(t *testing.T) {
	h := newHarness(t)
	h.backend.responses["manage_subscription"] = `{"status":"confirmed"}`

	rec := h.do(t, http.MethodGet, "/api/notifications/subscribe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "confirmed")
}

func TestManagePush(t *testing.T) {
	h := newHarness(t)
	h.backend.responses["manage_subscription"] = `{"status":"pending"}`

	rec := h.do(t, http.MethodPost, "/api/notifications/subscribe", ManagePushRequest{Action: "subscribe"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending")
}

func TestManagePush_InvalidAction(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/notifications/subscribe", ManagePushRequest{Action: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/session/register", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user-1")
	assert.Equal(t, []string{"add_user_with_id"}, h.backend.calls)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t)
	h.seed("1", true)
	h.poller.Start(context.Background())

	rec := h.do(t, http.MethodPost, "/api/session/signout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, notify.StateStopped, h.poller.State())
	assert.False(t, h.session.Authenticated())
}

func TestLoadSession_NotAuthenticated(t *testing.T) {
	h := newHarness(t)
	h.session.Clear()

	rec := h.do(t, http.MethodPost, "/api/session/load", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoadSession(t *testing.T) {
	h := newHarness(t)
	h.backend.responses["get_stream_subscriptions"] = `{
		"status": "fetched",
		"message": {"all_stream_subscriptions": [{"id": 1, "url": "u", "is_active": true}]}
	}`

	rec := h.do(t, http.MethodPost, "/api/session/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.store.Len())
}

func TestBackendFailureIsBadGateway(t *testing.T) {
	h := newHarness(t)
	h.backend.errs["manage_subscription"] = &gateway.Error{Status: 500, Body: "boom"}

	rec := h.do(t, http.MethodGet, "/api/notifications/subscribe", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
