package station

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/k-ogaki/deepwatch/internal/config"
	"github.com/k-ogaki/deepwatch/internal/generator"
	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/internal/metrics"
	"github.com/k-ogaki/deepwatch/internal/recorder"
)

// Server serves the station control plane and the stream socket.
type Server struct {
	cfg       *config.Config
	hub       *Hub
	sched     *Scheduler
	rec       *recorder.Recorder
	m         *metrics.Metrics
	startedAt time.Time
}

// NewServer returns a configured station server.
func NewServer(cfg *config.Config, hub *Hub, sched *Scheduler, rec *recorder.Recorder, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		hub:       hub,
		sched:     sched,
		rec:       rec,
		m:         m,
		startedAt: time.Now(),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws/stream", s.hub.HandleStream)
	mux.HandleFunc("/api/server/info", s.handleServerInfo)
	mux.HandleFunc("/api/stream/status", s.handleStreamStatus)
	mux.HandleFunc("/api/source/status", s.handleSourceStatus)
	mux.HandleFunc("/api/source/select", s.adminOnly(s.handleSourceSelect))
	mux.HandleFunc("/api/viewers/connected", s.handleViewersConnected)
	mux.HandleFunc("/api/viewers/allow", s.adminOnly(s.handleViewerAllow))
	mux.HandleFunc("/api/viewers/revoke", s.adminOnly(s.handleViewerRevoke))
	mux.HandleFunc("/api/recording/start", s.adminOnly(s.handleRecordingStart))
	mux.HandleFunc("/api/recording/stop", s.adminOnly(s.handleRecordingStop))
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, _, _ := s.hub.Counts()
	writeJSON(w, map[string]any{
		"status":    "ok",
		"streaming": s.sched.Status().Running,
		"viewers":   total,
		"recording": s.rec.IsRecording(),
		"uptime_s":  time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	ip := LANIP()
	port, _ := strconv.Atoi(s.cfg.HTTPPort)
	writeJSON(w, map[string]any{
		"ip":         ip,
		"port":       port,
		"stream_url": fmt.Sprintf("ws://%s:%s/ws/stream", ip, s.cfg.HTTPPort),
	})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sched.Status())
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	state := "IDLE"
	if s.sched.Status().Running {
		state = "LIVE"
	}
	var lastTS any
	if at, ok := s.sched.LastFrameAt(); ok {
		lastTS = float64(at.UnixNano()) / 1e9
	}
	writeJSON(w, map[string]any{
		"state":         state,
		"scenario":      s.sched.Scenario().Name,
		"target_fps":    s.cfg.StreamFPS,
		"last_frame_ts": lastTS,
	})
}

func (s *Server) handleSourceSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		// Scenario is a YAML path; empty selects the built-in scenario.
		Scenario string `json:"scenario"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"success": false, "error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	sc := generator.DefaultScenario()
	if req.Scenario != "" {
		loaded, err := generator.LoadScenario(req.Scenario)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"success": false, "error": err.Error()}, http.StatusBadRequest)
			return
		}
		sc = loaded
	}

	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.sched.SwapScenario(sc, seed, generator.Options{
		Width:        s.cfg.FrameWidth,
		Height:       s.cfg.FrameHeight,
		JPEGQuality:  s.cfg.JPEGQuality,
		IncludeImage: true,
	})

	state := "IDLE"
	if s.sched.Status().Running {
		state = "LIVE"
	}
	writeJSON(w, map[string]any{
		"success":  true,
		"state":    state,
		"scenario": sc.Name,
	})
}

func (s *Server) handleViewersConnected(w http.ResponseWriter, r *http.Request) {
	total, allowed, blocked := s.hub.Counts()
	writeJSON(w, map[string]any{
		"viewers": s.hub.Snapshot(),
		"total":   total,
		"allowed": allowed,
		"blocked": blocked,
	})
}

func (s *Server) handleViewerAllow(w http.ResponseWriter, r *http.Request) {
	s.handleViewerPermission(w, r, s.hub.Allow, "Viewer allowed")
}

func (s *Server) handleViewerRevoke(w http.ResponseWriter, r *http.Request) {
	s.handleViewerPermission(w, r, s.hub.Revoke, "Viewer revoked")
}

func (s *Server) handleViewerPermission(w http.ResponseWriter, r *http.Request, apply func(string) error, okMsg string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ViewerID string `json:"viewer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ViewerID == "" {
		writeJSONWithStatus(w, map[string]any{"success": false, "message": "viewer_id is required"}, http.StatusBadRequest)
		return
	}

	if err := apply(req.ViewerID); err != nil {
		writeJSONWithStatus(w, map[string]any{
			"success":   false,
			"viewer_id": req.ViewerID,
			"message":   err.Error(),
		}, http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"success":   true,
		"viewer_id": req.ViewerID,
		"message":   okMsg,
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.rec.Start(s.sched.Scenario().Name); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if s.m != nil {
		s.m.RecordingActive.Store(1)
	}

	st := s.rec.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       st.Filename,
		"id":         st.ID,
		"started_at": float64(st.StartTime.Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.rec.GetStatus()
	if err := s.rec.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if s.m != nil {
		s.m.RecordingActive.Store(0)
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       st.Filename,
		"stats":      s.rec.GetStatus(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.rec.GetStatus())
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Station", "Failed to encode response: %v", err)
	}
}
