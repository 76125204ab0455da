// Package api provides the HTTP API for observing and playing the game.
// GET endpoints are public and read-only. Player commands are rate limited
// per client. Admin endpoints require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/paradox-protocol/internal/bignum"
	"github.com/talgya/paradox-protocol/internal/commands"
	"github.com/talgya/paradox-protocol/internal/engine"
	apperrors "github.com/talgya/paradox-protocol/internal/errors"
	"github.com/talgya/paradox-protocol/internal/persistence"
	"github.com/talgya/paradox-protocol/internal/state"
)

const maxBodyBytes = 1 << 20

// Server serves the game over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB      // optional; snapshot and history endpoints need it
	Journal  *persistence.Journal // events awaiting the next save
	Hub      *Hub
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = admin disabled.
	Retain   int    // snapshots kept after an admin save

	// CommandLimit caps player commands per client per minute. 0 = 600.
	CommandLimit int

	srv *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	limit := s.CommandLimit
	if limit <= 0 {
		limit = 600
	}
	commandLimiter := NewRateLimiter(limit, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Player commands.
	mux.HandleFunc("POST /api/v1/commands/{name}", RateLimitMiddleware(commandLimiter, s.handleCommand))

	// Admin endpoints.
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/advance", s.adminOnly(s.handleAdvance))
	mux.HandleFunc("GET /api/v1/snapshot", s.adminOnly(s.handleExport))
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("POST /api/v1/restore", s.adminOnly(s.handleRestore))

	return mux
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "persistence", s.DB != nil)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no PARADOX_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rates := s.Sim.Rates()
	eligible, gain := s.Sim.PrestigePreview()

	var status map[string]any
	s.Sim.Read(func(st *state.GameState) {
		resources := make(map[string]any, len(st.Ledger))
		for _, id := range st.Ledger.IDs() {
			resources[id] = map[string]string{
				"amount":  st.Ledger.Get(id).Human(),
				"per_sec": rates[id].Human(),
			}
		}
		status = map[string]any{
			"name":      "Paradox Protocol",
			"session":   st.SessionID,
			"tick":      st.Timeline.Tick,
			"sim_time":  engine.SimTime(st.Timeline.Elapsed),
			"speed":     s.Eng.Speed(),
			"running":   s.Eng.Running(),
			"resources": resources,
			"paradox": map[string]any{
				"level":  st.Paradox.Level,
				"risk":   st.Timeline.Risk,
				"events": st.Paradox.Events,
				"debuff": st.Timeline.DebuffTicks,
			},
			"time_bank": st.TimeBank.Balance.Human(),
			"prestige": map[string]any{
				"count":      st.Prestige.Count,
				"multiplier": st.Prestige.Multiplier.Human(),
				"eligible":   eligible,
				"gain":       gain.Human(),
			},
		}
	})
	writeJSON(w, http.StatusOK, status)
}

// stateView is the JSON shape of GameState.
type stateView struct {
	SessionID      string                   `json:"session_id"`
	Ledger         map[string]bignum.Number `json:"ledger"`
	Generators     map[string]uint64        `json:"generators"`
	Upgrades       []string                 `json:"upgrades"`
	Tick           uint64                   `json:"tick"`
	Elapsed        string                   `json:"elapsed"`
	Risk           float64                  `json:"risk"`
	DebuffTicks    uint64                   `json:"debuff_ticks"`
	Level          state.Level              `json:"paradox_level"`
	ResolvingTicks uint64                   `json:"resolving_ticks"`
	ParadoxEvents  uint64                   `json:"paradox_events"`
	TimeBank       bignum.Number            `json:"time_bank"`
	AccrualRate    bignum.Number            `json:"time_accrual_rate"`
	TimeSpent      bignum.Number            `json:"time_spent"`
	PrestigeCount  uint64                   `json:"prestige_count"`
	Multiplier     bignum.Number            `json:"prestige_multiplier"`
	RunEarned      map[string]bignum.Number `json:"run_earned"`
	LifetimeEarned map[string]bignum.Number `json:"lifetime_earned"`
}

func viewOf(st *state.GameState) stateView {
	return stateView{
		SessionID:      st.SessionID,
		Ledger:         st.Ledger,
		Generators:     st.Generators,
		Upgrades:       st.Upgrades,
		Tick:           st.Timeline.Tick,
		Elapsed:        st.Timeline.Elapsed.String(),
		Risk:           st.Timeline.Risk,
		DebuffTicks:    st.Timeline.DebuffTicks,
		Level:          st.Paradox.Level,
		ResolvingTicks: st.Paradox.ResolvingTicks,
		ParadoxEvents:  st.Paradox.Events,
		TimeBank:       st.TimeBank.Balance,
		AccrualRate:    st.TimeBank.AccrualRate,
		TimeSpent:      st.TimeBank.Spent,
		PrestigeCount:  st.Prestige.Count,
		Multiplier:     st.Prestige.Multiplier,
		RunEarned:      st.RunEarned,
		LifetimeEarned: st.LifetimeEarned,
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.Sim.State()))
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	gens, ups := s.Sim.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"generators": gens,
		"upgrades":   ups,
	})
}

// handleEvents returns recent in-memory events, or those after ?since=seq.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if since := q.Get("since"); since != "" {
		seq, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			http.Error(w, "since must be a sequence number", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, s.Sim.Events().Since(seq))
		return
	}
	writeJSON(w, http.StatusOK, s.Sim.Events().Recent(queryLimit(r, 50, 500)))
}

// handleHistory returns persisted events, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	evs, err := s.DB.RecentEvents(r.Context(), queryLimit(r, 100, 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "advance" {
		http.Error(w, "advance is an admin endpoint", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	cmd, err := commands.Decode(name, body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Sim.Execute(r.Context(), cmd)
	if err != nil {
		slog.Debug("command rejected", "command", cmd.Name(), "id", cmd.CommandID(), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      cmd.CommandID(),
		"command": cmd.Name(),
		"result":  res,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, http.StatusOK, map[string]float64{"speed": s.Eng.Speed()})
}

// handleAdvance simulates a duration immediately, independent of wall time.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	cmd, err := commands.Decode("advance", body)
	if err != nil {
		writeError(w, err)
		return
	}
	adv := cmd.(commands.Advance)
	sum, err := s.Sim.Advance(r.Context(), adv.Elapsed)
	if err != nil && apperrors.CodeOf(err) != apperrors.CodeCatchUpCancelled {
		writeError(w, err)
		return
	}
	slog.Info("manual advance", "elapsed", adv.Elapsed, "ticks", sum.Ticks, "bulk", sum.Bulk, "remaining", sum.Remaining)
	writeJSON(w, http.StatusOK, map[string]any{
		"ticks":          sum.Ticks,
		"elapsed":        sum.Elapsed.String(),
		"remaining":      sum.Remaining.String(),
		"bulk":           sum.Bulk,
		"chunks":         sum.Chunks,
		"produced":       sum.Produced,
		"time_accrued":   sum.TimeAccrued,
		"paradox_events": sum.ParadoxEvents(),
		"overflow":       sum.Overflow != nil,
	})
}

// handleExport returns the encoded snapshot document.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.Sim.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=paradox-%d.json", s.Sim.CurrentTick()))
	w.Write(data)
}

// handleSnapshot saves the current state to the database.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	rec, err := s.DB.Checkpoint(r.Context(), s.Sim, s.Journal, s.Retain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       rec.ID,
		"tick":     rec.Tick,
		"saved_at": rec.SavedAt().UTC().Format(time.RFC3339),
		"size":     humanize.Bytes(uint64(len(rec.Data))),
	})
}

// handleRestore replaces the running state with an uploaded snapshot.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 16*maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := s.Sim.Restore(data); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("state restored from upload", "tick", s.Sim.CurrentTick())
	writeJSON(w, http.StatusOK, map[string]uint64{"tick": s.Sim.CurrentTick()})
}

func queryLimit(r *http.Request, def, most int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, most)
}

type errorBody struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{
		Code:     code,
		Message:  err.Error(),
		Metadata: apperrors.MetadataOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
