package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publicsquare/pkg/analysis"
	"publicsquare/pkg/lifecycle"
	"publicsquare/pkg/models"
	"publicsquare/pkg/realtime"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
)

// fakeAnalysis stands in for the primary backend.
func fakeAnalysis(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/moderate":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			toxic := bytes.Contains([]byte(req["content"]), []byte("awful"))
			_ = json.NewEncoder(w).Encode(map[string]any{"is_toxic": toxic, "confidence": 0.93})
		case "/api/factcheck":
			_ = json.NewEncoder(w).Encode(map[string]any{"verdict": "true", "confidence": 0.88, "sources": []string{"https://example.org"}})
		case "/api/summarize":
			_ = json.NewEncoder(w).Encode(map[string]any{"summary": "a brisk exchange", "key_points": []string{"p1"}, "participants": 2, "duration_minutes": 5})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	upstream := fakeAnalysis(t)

	st := store.NewMemory()
	heur := analysis.NewHeuristic(nil, nil, 0)
	client := analysis.NewClient(analysis.Config{
		BaseURL:              upstream.URL,
		ModerationWebhookURL: "http://127.0.0.1:1/none",
		FactCheckWebhookURL:  "http://127.0.0.1:1/none",
		Timeout:              2 * time.Second,
	}, heur)
	hub := realtime.NewHub(realtime.HubOptions{})
	reg := registry.New(st)
	mgr := lifecycle.New(st, client, hub, reg)
	hub.OnEvent = mgr.ApplyEvent
	hub.OnPresence = mgr.AdjustParticipants

	a := New(mgr, reg, client, hub, st, "test")
	srv := httptest.NewServer(a.Router(SecConfig{}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func createRoom(t *testing.T, srv *httptest.Server, topic string) models.Room {
	t.Helper()
	res := postJSON(t, srv.URL+"/v1/rooms", map[string]string{"topic": topic})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	return decode[models.Room](t, res)
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	room := createRoom(t, srv, "transit funding")
	require.NotEmpty(t, room.ID)
	require.Equal(t, "transit funding", room.Topic)

	res, err := http.Get(srv.URL + "/v1/rooms")
	require.NoError(t, err)
	rooms := decode[[]models.Room](t, res)
	require.Len(t, rooms, 1)

	res, err = http.Get(srv.URL + "/v1/rooms/" + room.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/rooms/"+room.ID, nil)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	// closed rooms reject new messages
	res = postJSON(t, srv.URL+"/v1/rooms/"+room.ID+"/messages", map[string]string{"author_id": "u1", "content": "late"})
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestCreateRoomRejectsEmptyTopic(t *testing.T) {
	srv := newTestServer(t)
	res := postJSON(t, srv.URL+"/v1/rooms", map[string]string{"topic": "   "})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestSubmitReturnsPendingImmediately(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, "minimum wage")

	res := postJSON(t, srv.URL+"/v1/rooms/"+room.ID+"/messages", map[string]string{
		"author_id": "u1", "author_name": "Alice", "content": "a measured opening statement",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	msg := decode[models.Message](t, res)
	require.Equal(t, models.StatusPending, msg.Status)
	require.Nil(t, msg.Moderation)

	// analysis settles asynchronously
	require.Eventually(t, func() bool {
		res, err := http.Get(srv.URL + "/v1/rooms/" + room.ID + "/messages")
		if err != nil {
			return false
		}
		msgs := decode[[]models.Message](t, res)
		return len(msgs) == 1 && msgs[0].Status == models.StatusApproved
	}, 3*time.Second, 25*time.Millisecond)
}

func TestToxicSubmissionGetsFlagged(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, "tone")

	res := postJSON(t, srv.URL+"/v1/rooms/"+room.ID+"/messages", map[string]string{
		"author_id": "u2", "content": "what an awful thing to say",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	res.Body.Close()

	require.Eventually(t, func() bool {
		res, err := http.Get(srv.URL + "/v1/rooms/" + room.ID + "/messages")
		if err != nil {
			return false
		}
		msgs := decode[[]models.Message](t, res)
		return len(msgs) == 1 && msgs[0].Status == models.StatusFlagged && msgs[0].Moderation != nil
	}, 3*time.Second, 25*time.Millisecond)
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, "rules")

	for _, body := range []map[string]string{
		{"author_id": "", "content": "no author"},
		{"author_id": "u1", "content": "   "},
	} {
		res := postJSON(t, srv.URL+"/v1/rooms/"+room.ID+"/messages", body)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		res.Body.Close()
	}
}

func TestFactChecksEndpoint(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, "statistics")

	res := postJSON(t, srv.URL+"/v1/rooms/"+room.ID+"/messages", map[string]string{
		"author_id": "u1", "content": "The national debt is 34 trillion dollars",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	res.Body.Close()

	require.Eventually(t, func() bool {
		res, err := http.Get(srv.URL + "/v1/rooms/" + room.ID + "/factchecks")
		if err != nil {
			return false
		}
		fcs := decode[[]models.FactCheck](t, res)
		return len(fcs) == 1 && fcs[0].Verdict == models.VerdictTrue
	}, 3*time.Second, 25*time.Millisecond)
}

func TestSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	room := createRoom(t, srv, "wrap up")

	res := postJSON(t, srv.URL+"/v1/rooms/"+room.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	sum := decode[analysis.Summary](t, res)
	require.Equal(t, "a brisk exchange", sum.Summary)
}

func TestUnknownRoomIs404(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{
		"/v1/rooms/nope",
		"/v1/rooms/nope/messages",
		"/v1/rooms/nope/factchecks",
	} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, res.StatusCode, path)
		res.Body.Close()
	}
}

// brokenStore fails every read; writes pass through.
type brokenStore struct {
	*store.Memory
}

func (brokenStore) LoadRooms() ([]models.Room, error) {
	return nil, errors.New("disk gone")
}

func TestReadyzFailsWhenStoreUnreadable(t *testing.T) {
	upstream := fakeAnalysis(t)
	st := brokenStore{store.NewMemory()}
	client := analysis.NewClient(analysis.Config{BaseURL: upstream.URL, Timeout: time.Second}, analysis.NewHeuristic(nil, nil, 0))
	hub := realtime.NewHub(realtime.HubOptions{})
	reg := registry.New(st)
	mgr := lifecycle.New(st, client, hub, reg)

	a := New(mgr, reg, client, hub, st, "test")
	srv := httptest.NewServer(a.Router(SecConfig{}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	body := decode[map[string]string](t, res)
	require.Equal(t, "not ready", body["status"])
}

func TestErrorEnvelopeShape(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/v1/rooms", map[string]string{"topic": ""})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	body := decode[ErrorBody](t, res)
	require.NotEmpty(t, body.Error)

	res, err := http.Get(srv.URL + "/v1/rooms/nope")
	require.NoError(t, err)
	body = decode[ErrorBody](t, res)
	require.Equal(t, "room not found", body.Error)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	body := decode[map[string]string](t, res)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "ok", body["upstream"])
}

func TestRateLimiting(t *testing.T) {
	upstream := fakeAnalysis(t)
	st := store.NewMemory()
	client := analysis.NewClient(analysis.Config{BaseURL: upstream.URL, Timeout: time.Second}, analysis.NewHeuristic(nil, nil, 0))
	hub := realtime.NewHub(realtime.HubOptions{})
	reg := registry.New(st)
	mgr := lifecycle.New(st, client, hub, reg)

	a := New(mgr, reg, client, hub, st, "test")
	srv := httptest.NewServer(a.Router(SecConfig{RPS: 1, Burst: 2}))
	defer srv.Close()

	limited := false
	for i := 0; i < 10; i++ {
		res, err := http.Get(srv.URL + "/v1/rooms")
		require.NoError(t, err)
		if res.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
		res.Body.Close()
	}
	require.True(t, limited, "burst of requests should trip the limiter")

	// probes bypass the limiter
	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
}
