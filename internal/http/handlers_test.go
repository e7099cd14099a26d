package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcendence/coordinator/internal/protocol"
)

type recordingNotifier struct {
	channelID int64
	userIDs   []int64
	event     protocol.Event
	broadcast protocol.Event
	pausedID  string
	pauseErr  error
	exitedID  string
	exitErr   error
}

func (n *recordingNotifier) BroadcastToChannel(channelID int64, event protocol.Event, _ json.RawMessage) {
	n.channelID = channelID
	n.event = event
}

func (n *recordingNotifier) NotifyUsers(userIDs []int64, event protocol.Event, _ json.RawMessage) {
	n.userIDs = userIDs
	n.event = event
}

func (n *recordingNotifier) BroadcastAll(event protocol.Event, _ json.RawMessage) {
	n.broadcast = event
}

func (n *recordingNotifier) PauseGame(gameID string) error {
	n.pausedID = gameID
	return n.pauseErr
}

func (n *recordingNotifier) ConfirmGameExit(gameID string) error {
	n.exitedID = gameID
	return n.exitErr
}

func newTestMux(notifier Notifier, token string, limiter RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandlerSet(Options{
		Notifier:    notifier,
		Stats:       func() (int, int) { return 3, 2 },
		AdminToken:  token,
		RateLimiter: limiter,
	}).Register(mux)
	return mux
}

func postJSON(mux *http.ServeMux, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLivenessHandler(t *testing.T) {
	mux := newTestMux(&recordingNotifier{}, "tok", nil)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)
}

func TestMetricsHandlerReportsCounts(t *testing.T) {
	mux := newTestMux(&recordingNotifier{}, "tok", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coordinator_sessions 3")
	assert.Contains(t, rec.Body.String(), "coordinator_online_users 2")
}

func TestChannelEventDispatches(t *testing.T) {
	notifier := &recordingNotifier{}
	mux := newTestMux(notifier, "tok", nil)

	rec := postJSON(mux, "/internal/channels/7/events", "tok",
		`{"event":"channel_message","payload":{"text":"hi"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(7), notifier.channelID)
	assert.Equal(t, protocol.EventChannelMessage, notifier.event)
}

func TestChannelEventRejectsMalformedID(t *testing.T) {
	mux := newTestMux(&recordingNotifier{}, "tok", nil)

	rec := postJSON(mux, "/internal/channels/zero/events", "tok", `{"event":"channel_message"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserEventDispatches(t *testing.T) {
	notifier := &recordingNotifier{}
	mux := newTestMux(notifier, "tok", nil)

	rec := postJSON(mux, "/internal/users/events", "tok",
		`{"userIds":[1,2],"event":"relationship_new","payload":{}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{1, 2}, notifier.userIDs)
	assert.Equal(t, protocol.EventRelationshipNew, notifier.event)
}

func TestBroadcastDispatches(t *testing.T) {
	notifier := &recordingNotifier{}
	mux := newTestMux(notifier, "tok", nil)

	rec := postJSON(mux, "/internal/broadcast", "tok", `{"event":"channel_new","payload":{}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, protocol.EventChannelNew, notifier.broadcast)
}

func TestGamePauseDispatches(t *testing.T) {
	notifier := &recordingNotifier{}
	mux := newTestMux(notifier, "tok", nil)

	rec := postJSON(mux, "/internal/games/abc/pause", "tok", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", notifier.pausedID)
}

func TestGamePauseMapsErrorKinds(t *testing.T) {
	notifier := &recordingNotifier{pauseErr: protocol.NotFound("no game")}
	mux := newTestMux(notifier, "tok", nil)

	rec := postJSON(mux, "/internal/games/abc/pause", "tok", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	notifier.pauseErr = protocol.Conflict("not running")
	rec = postJSON(mux, "/internal/games/abc/pause", "tok", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGameExitDispatches(t *testing.T) {
	notifier := &recordingNotifier{}
	mux := newTestMux(notifier, "tok", nil)

	rec := postJSON(mux, "/internal/games/abc/exit", "tok", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", notifier.exitedID)
}

func TestNotifyRequiresToken(t *testing.T) {
	mux := newTestMux(&recordingNotifier{}, "tok", nil)

	rec := postJSON(mux, "/internal/broadcast", "", `{"event":"channel_new"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(mux, "/internal/broadcast", "wrong", `{"event":"channel_new"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotifyRefusedWithoutConfiguredToken(t *testing.T) {
	mux := newTestMux(&recordingNotifier{}, "", nil)

	rec := postJSON(mux, "/internal/broadcast", "anything", `{"event":"channel_new"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type denyLimiter struct{}

func (denyLimiter) Allow() bool { return false }

func TestNotifyHonoursRateLimiter(t *testing.T) {
	mux := newTestMux(&recordingNotifier{}, "tok", denyLimiter{})

	rec := postJSON(mux, "/internal/broadcast", "tok", `{"event":"channel_new"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
