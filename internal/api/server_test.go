package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/config"
	"github.com/talgya/paradox-protocol/internal/engine"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/events"
	"github.com/talgya/paradox-protocol/internal/persistence"
	"github.com/talgya/paradox-protocol/internal/state"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := config.DefaultBalance()
	sim := engine.NewSimulation(&b, nil)
	return &Server{
		Sim:      sim,
		Eng:      engine.NewEngine(sim, nil),
		AdminKey: "secret",
	}
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["name"] != "Paradox Protocol" {
		t.Fatalf("unexpected status %v", body)
	}
	px := body["paradox"].(map[string]any)
	if px["level"] != "stable" {
		t.Fatalf("expected stable paradox level got %v", px["level"])
	}
}

func TestCommandErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	s.Sim.Read(func(st *state.GameState) { st.Ledger["credits"] = bignum.Zero() })

	rec := do(t, h, http.MethodPost, "/api/v1/commands/purchase_generator", `{"generator":"chrono_harvester","count":1}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rec.Code, rec.Body)
	}
	var eb errorBody
	json.Unmarshal(rec.Body.Bytes(), &eb)
	if eb.Code != apperrors.CodeInsufficientResources {
		t.Fatalf("expected INSUFFICIENT_RESOURCES got %s", eb.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/commands/teleport", `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/commands/advance", `{"elapsed":"1h"}`, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected advance to be refused as a player command, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/commands/request_prestige", ``, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for early prestige got %d", rec.Code)
	}
}

func TestPurchaseCommand(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/commands/purchase_generator", `{"id":"c1","generator":"chrono_harvester","count":1}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		ID     string `json:"id"`
		Result uint64 `json:"result"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.ID != "c1" || body.Result != 1 {
		t.Fatalf("unexpected response %s", rec.Body)
	}
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/advance", `{"elapsed":"10s"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/advance", `{"elapsed":"10s"}`, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body)
	}
	if s.Sim.CurrentTick() != 100 {
		t.Fatalf("expected 100 ticks got %d", s.Sim.CurrentTick())
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":4}`, "secret"); rec.Code != http.StatusOK || s.Eng.Speed() != 4 {
		t.Fatalf("expected speed 4 got %v (%d)", s.Eng.Speed(), rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, "secret"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative speed got %d", rec.Code)
	}

	s.AdminKey = ""
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":1}`, "secret"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected admin disabled got %d", rec.Code)
	}
}

func TestExportRestore(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/v1/advance", `{"elapsed":"5s"}`, "secret")

	rec := do(t, h, http.MethodGet, "/api/v1/snapshot", "", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	data := rec.Body.String()

	other := newTestServer(t)
	if rec := do(t, other.Handler(), http.MethodPost, "/api/v1/restore", data, "secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected restore 200 got %d: %s", rec.Code, rec.Body)
	}
	if other.Sim.CurrentTick() != 50 {
		t.Fatalf("expected restored tick 50 got %d", other.Sim.CurrentTick())
	}
	if rec := do(t, other.Handler(), http.MethodPost, "/api/v1/restore", `{"version":9}`, "secret"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad snapshot got %d", rec.Code)
	}
}

func TestSnapshotSave(t *testing.T) {
	s := newTestServer(t)
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.DB = db
	s.Journal = persistence.NewJournal(100)
	s.Retain = 3
	s.Sim.Events().Subscribe(s.Journal)

	h := s.Handler()
	do(t, h, http.MethodPost, "/api/v1/advance", `{"elapsed":"1s"}`, "secret")
	rec := do(t, h, http.MethodPost, "/api/v1/snapshot", "", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body)
	}
	latest, err := db.LatestSnapshot(context.Background())
	if err != nil || latest.Tick != 10 {
		t.Fatalf("expected saved tick 10 got %d (%v)", latest.Tick, err)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/history", "", "")
	var evs []persistence.StoredEvent
	json.Unmarshal(rec.Body.Bytes(), &evs)
	found := false
	for _, e := range evs {
		found = found || e.Type == events.TickProcessed
	}
	if !found {
		t.Fatalf("expected persisted tick event, got %s", rec.Body)
	}
}

func TestEventsSince(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/v1/advance", `{"elapsed":"1s"}`, "secret")
	do(t, h, http.MethodPost, "/api/v1/advance", `{"elapsed":"1s"}`, "secret")

	var all []events.Event
	json.Unmarshal(do(t, h, http.MethodGet, "/api/v1/events", "", "").Body.Bytes(), &all)
	if len(all) < 2 {
		t.Fatalf("expected events got %d", len(all))
	}
	var since []events.Event
	path := "/api/v1/events?since=" + strconv.FormatUint(all[0].Seq, 10)
	json.Unmarshal(do(t, h, http.MethodGet, path, "", "").Body.Bytes(), &since)
	if len(since) != len(all)-1 {
		t.Fatalf("expected %d events after seq %d got %d", len(all)-1, all[0].Seq, len(since))
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/events?since=x", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("expected request %d allowed", i+1)
		}
	}
	ok, wait := rl.Allow("a")
	if ok || wait != time.Minute {
		t.Fatalf("expected limit with a minute wait, got %v %v", ok, wait)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Fatalf("expected separate clients")
	}
	now = now.Add(time.Minute)
	if ok, _ := rl.Allow("a"); !ok {
		t.Fatalf("expected window reset")
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t)
	s.Hub = NewHub()
	s.Sim.Events().Subscribe(s.Hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := s.Sim.Advance(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var e events.Event
		json.Unmarshal(msg, &e)
		if e.Type == events.TickProcessed {
			return
		}
	}
}
