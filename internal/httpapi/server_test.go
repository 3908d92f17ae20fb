package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Abdul-AMA/bridgeai-backend/internal/config"
	"github.com/Abdul-AMA/bridgeai-backend/internal/crs"
	"github.com/Abdul-AMA/bridgeai-backend/internal/events"
	"github.com/Abdul-AMA/bridgeai-backend/internal/generator"
	"github.com/Abdul-AMA/bridgeai-backend/internal/store"
)

type fakeScheduler struct {
	mu     sync.Mutex
	busy   map[string]bool
	status map[string]generator.Status
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		busy:   make(map[string]bool),
		status: make(map[string]generator.Status),
	}
}

func (f *fakeScheduler) QueueGeneration(sessionID, _, _, _ string, _ int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[sessionID] {
		return false
	}
	f.busy[sessionID] = true
	f.status[sessionID] = generator.StatusQueued
	return true
}

func (f *fakeScheduler) Status(sessionID string) generator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.status[sessionID]; ok {
		return st
	}
	return generator.StatusIdle
}

func (f *fakeScheduler) Cancel(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.busy[sessionID] {
		return false
	}
	delete(f.busy, sessionID)
	f.status[sessionID] = generator.StatusIdle
	return true
}

func testConfig() config.Config {
	return config.Config{
		DefaultPattern: crs.PatternBABOK,
		AllowAnyOrigin: true,
	}
}

func newTestServer(t *testing.T, scheduler Generator) (*httptest.Server, store.Store, *events.Bus) {
	t.Helper()
	st := store.NewInMemoryStore()
	bus := events.NewBus()
	srv := New(testConfig(), st, scheduler, bus, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st, bus
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createTestSession(t *testing.T, baseURL string) string {
	t.Helper()
	res := postJSON(t, baseURL+"/v1/sessions", map[string]string{
		"project_id": "proj-1",
		"user_id":    "user-1",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	decodeBody(t, res, &created)
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return id
}

func TestSessionAndMessageLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t, newFakeScheduler())

	sessionID := createTestSession(t, ts.URL)

	getRes, err := http.Get(ts.URL + "/v1/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	var sess map[string]any
	decodeBody(t, getRes, &sess)
	if sess["crs_pattern"] != crs.PatternBABOK {
		t.Fatalf("crs_pattern = %v, want default %q", sess["crs_pattern"], crs.PatternBABOK)
	}

	msgRes := postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/messages", map[string]string{
		"content": "We need a booking portal.",
	})
	if msgRes.StatusCode != http.StatusCreated {
		t.Fatalf("create message status = %d, want %d", msgRes.StatusCode, http.StatusCreated)
	}
	var msg map[string]any
	decodeBody(t, msgRes, &msg)
	if msg["sender"] != "user" {
		t.Fatalf("sender = %v, want user (default)", msg["sender"])
	}

	listRes, err := http.Get(ts.URL + "/v1/sessions/" + sessionID + "/messages")
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	var listing struct {
		Messages []map[string]any `json:"messages"`
	}
	decodeBody(t, listRes, &listing)
	if len(listing.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(listing.Messages))
	}
}

func TestCreateSessionRejectsUnknownPattern(t *testing.T) {
	ts, _, _ := newTestServer(t, newFakeScheduler())

	res := postJSON(t, ts.URL+"/v1/sessions", map[string]string{"crs_pattern": "freestyle"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSessionNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t, newFakeScheduler())

	res, err := http.Get(ts.URL + "/v1/sessions/nope")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGenerateStatusCancelFlow(t *testing.T) {
	scheduler := newFakeScheduler()
	ts, _, _ := newTestServer(t, scheduler)
	sessionID := createTestSession(t, ts.URL)

	genRes := postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/crs/generate", nil)
	if genRes.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d, want %d", genRes.StatusCode, http.StatusAccepted)
	}
	var gen map[string]any
	decodeBody(t, genRes, &gen)
	if gen["queued"] != true {
		t.Fatalf("queued = %v, want true", gen["queued"])
	}
	if gen["status"] != string(generator.StatusQueued) {
		t.Fatalf("status = %v, want queued", gen["status"])
	}

	// A second generate while one is pending is refused but not an error.
	dupRes := postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/crs/generate", nil)
	var dup map[string]any
	decodeBody(t, dupRes, &dup)
	if dup["queued"] != false {
		t.Fatalf("duplicate queued = %v, want false", dup["queued"])
	}

	statusRes, err := http.Get(ts.URL + "/v1/sessions/" + sessionID + "/crs/status")
	if err != nil {
		t.Fatalf("GET status error = %v", err)
	}
	var status map[string]any
	decodeBody(t, statusRes, &status)
	if status["status"] != string(generator.StatusQueued) {
		t.Fatalf("status = %v, want queued", status["status"])
	}

	cancelRes := postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/crs/cancel", nil)
	var cancelled map[string]any
	decodeBody(t, cancelRes, &cancelled)
	if cancelled["cancelled"] != true {
		t.Fatalf("cancelled = %v, want true", cancelled["cancelled"])
	}
	if cancelled["status"] != string(generator.StatusIdle) {
		t.Fatalf("status after cancel = %v, want idle", cancelled["status"])
	}
}

func TestGetDocumentBeforeGeneration(t *testing.T) {
	ts, _, _ := newTestServer(t, newFakeScheduler())
	sessionID := createTestSession(t, ts.URL)

	res, err := http.Get(ts.URL + "/v1/sessions/" + sessionID + "/crs")
	if err != nil {
		t.Fatalf("GET crs error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

// startRealScheduler wires the full generation path with the mock filler.
func startRealScheduler(t *testing.T, st store.Store, bus *events.Bus) *generator.Scheduler {
	t.Helper()
	factory, err := crs.NewFactory(crs.Config{Mode: "mock"})
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	pipeline := generator.NewPipeline(st, factory, bus, nil, time.Millisecond)
	scheduler := generator.NewScheduler(pipeline, bus, nil, generator.Config{BackoffBase: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go scheduler.Run(ctx)
	t.Cleanup(func() {
		cancel()
		scheduler.Wait()
	})
	return scheduler
}

func TestSSEStreamsGenerationEvents(t *testing.T) {
	st := store.NewInMemoryStore()
	bus := events.NewBus()
	scheduler := startRealScheduler(t, st, bus)
	srv := New(testConfig(), st, scheduler, bus, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess, err := st.CreateSession(context.Background(), store.Session{
		ProjectID: "proj-1", UserID: "user-1", Pattern: crs.PatternBABOK,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := st.SaveMessage(context.Background(), store.Message{
		SessionID: sess.ID,
		Sender:    store.SenderUser,
		Content:   "We need a booking portal for a clinic. Admin staff must approve bookings.",
	}); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	sseRes, err := http.Get(ts.URL + "/v1/sessions/" + sess.ID + "/crs/events")
	if err != nil {
		t.Fatalf("GET events error = %v", err)
	}
	defer sseRes.Body.Close()
	if ct := sseRes.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	terminal := make(chan events.Event, 1)
	go func() {
		scanner := bufio.NewScanner(sseRes.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt events.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}
			if evt.Type == events.TypeComplete || evt.Type == events.TypeUpdated || evt.Type == events.TypeError {
				terminal <- evt
				return
			}
		}
	}()

	genRes := postJSON(t, ts.URL+"/v1/sessions/"+sess.ID+"/crs/generate", nil)
	genRes.Body.Close()

	select {
	case evt := <-terminal:
		if evt.Type == events.TypeError {
			t.Fatalf("generation failed over SSE: %s", evt.Error)
		}
		if evt.CRSDocumentID == "" {
			t.Fatalf("terminal SSE event has no document id")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no terminal event over SSE")
	}
}

func TestChatWSStoresMessageAndQueues(t *testing.T) {
	scheduler := newFakeScheduler()
	ts, st, _ := newTestServer(t, scheduler)
	sessionID := createTestSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=" + sessionID
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws error = %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{
		"type":    "chat_message",
		"content": "We need an inventory dashboard.",
	}); err != nil {
		t.Fatalf("write ws error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ack wsAck
	for {
		if err := conn.ReadJSON(&ack); err != nil {
			t.Fatalf("read ws error = %v", err)
		}
		if ack.Type == "chat_ack" {
			break
		}
	}
	if !ack.Queued {
		t.Fatalf("ack.Queued = false, want true")
	}
	if ack.MessageID == "" {
		t.Fatalf("ack carries no message id")
	}

	msgs, err := st.ListMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != store.SenderUser {
		t.Fatalf("stored messages = %+v, want one user message", msgs)
	}
	if scheduler.Status(sessionID) != generator.StatusQueued {
		t.Fatalf("scheduler status = %s, want queued", scheduler.Status(sessionID))
	}

	// Unknown message types produce an error frame, not a disconnect.
	if err := conn.WriteJSON(map[string]string{"type": "mystery"}); err != nil {
		t.Fatalf("write ws error = %v", err)
	}
	var errAck wsAck
	if err := conn.ReadJSON(&errAck); err != nil {
		t.Fatalf("read ws error = %v", err)
	}
	if errAck.Type != "error" {
		t.Fatalf("errAck.Type = %q, want error", errAck.Type)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts, _, _ := newTestServer(t, newFakeScheduler())

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
