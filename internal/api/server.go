package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Subtalime/vintel-sub001/internal/chat"
	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/history"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
	"github.com/Subtalime/vintel-sub001/internal/model"
	"github.com/Subtalime/vintel-sub001/internal/topology"
)

// Engine is what the API reads from and drives on the alarm engine.
type Engine interface {
	Snapshot(now time.Time) []model.LocationView
	View(name string, now time.Time) (model.LocationView, bool)
	CurrentColor(name string, now time.Time) (background, text string, ok bool)
	Known() []model.Known
	SetMonitor(name string, on bool) bool
	Topology() []model.TopologyEdge
	SetTopology(edges []model.TopologyEdge)
	Persist(ctx context.Context) int
	Reset()
}

type Server struct {
	Config      *config.Manager
	Engine      Engine
	History     *history.Store
	Stats       *metrics.Store
	Parser      *chat.Parser
	Cache       topology.Cache
	CacheDriver string
	Logger      *slog.Logger
	Version     string
}

type StatusResponse struct {
	Status     string              `json:"status"`
	Time       string              `json:"time"`
	Version    string              `json:"version"`
	ConfigPath string              `json:"config_path"`
	Cache      string              `json:"cache"`
	Ingest     ingestStatus        `json:"ingest"`
	Tracked    int                 `json:"tracked"`
	Known      int                 `json:"known"`
	Dictionary int                 `json:"dictionary"`
	Bridges    int                 `json:"bridges"`
	Changes    int                 `json:"changes"`
	Rooms      []metrics.RoomStats `json:"rooms"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type locationResponse struct {
	model.LocationView
	Tracked bool                `json:"tracked"`
	History []model.StateChange `json:"history,omitempty"`
}

func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.Config == nil {
		return nil
	}
	current := s.Config.Get().API
	if !current.Enabled {
		if s.Logger != nil {
			s.Logger.Info("api disabled")
		}
		return nil
	}
	if s.Logger != nil {
		s.Logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.Logger != nil {
				s.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/locations", s.handleLocations)
	mux.HandleFunc("/locations/", s.handleLocation)
	mux.HandleFunc("/changes", s.handleChanges)
	mux.HandleFunc("/topology", s.handleTopology)
	mux.HandleFunc("/known", s.handleKnown)
	mux.HandleFunc("/admin/reset", s.handleReset)
	mux.HandleFunc("/admin/persist", s.handlePersist)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.Config.Get()
	now := time.Now()
	resp := StatusResponse{
		Status:     "ok",
		Time:       now.UTC().Format(time.RFC3339Nano),
		Version:    s.Version,
		ConfigPath: s.Config.Path(),
		Cache:      s.CacheDriver,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		Tracked: len(s.Engine.Snapshot(now)),
		Known:   len(s.Engine.Known()),
		Bridges: len(s.Engine.Topology()),
		Rooms:   s.Stats.All(),
	}
	if s.Parser != nil {
		resp.Dictionary = s.Parser.Dictionary().Len()
	}
	if s.History != nil {
		resp.Changes = s.History.Len()
	}
	if resp.Rooms == nil {
		resp.Rooms = []metrics.RoomStats{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.Engine.Snapshot(time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"locations": list,
		"count":     len(list),
	})
}

// handleLocation answers for untracked names too, with the default
// colors and tracked=false.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/locations/"))
	if name == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	now := time.Now()
	view, ok := s.Engine.View(name, now)
	if !ok {
		bg, text, _ := s.Engine.CurrentColor(name, now)
		view = model.LocationView{
			LocationState: model.LocationState{Name: name, Status: model.StatusUnknown},
			Background:    bg,
			Text:          text,
		}
	}
	resp := locationResponse{LocationView: view, Tracked: ok}
	if s.History != nil {
		resp.History = s.History.ForLocation(name)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"changes": []model.StateChange{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.StateChange
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.History.Since(ts)
	} else {
		list = s.History.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changes": list,
		"count":   len(list),
	})
}

// handleTopology exports the bridge list in compact form on GET and
// replaces it from an uploaded list on POST.
func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, topology.Export(s.Engine.Topology()))
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		res := topology.Importer{Logger: s.Logger}.ImportText(string(body))
		if res.Format == topology.FormatNone {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "no bridges recognised",
				"skipped": res.Skipped,
			})
			return
		}
		s.applyTopology(r.Context(), res.Edges)
		writeJSON(w, http.StatusOK, map[string]any{
			"format":  res.Format,
			"edges":   len(res.Edges),
			"skipped": res.Skipped,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) applyTopology(ctx context.Context, edges []model.TopologyEdge) {
	s.Engine.SetTopology(edges)
	if s.Parser != nil {
		s.Parser.SetDictionary(s.Parser.Dictionary().With(topology.NewGraph(edges).Locations()))
	}
	if s.Cache == nil {
		return
	}
	if err := topology.Save(ctx, s.Cache, edges, s.Config.Get().Topology.CacheTTL, time.Now()); err != nil && s.Logger != nil {
		s.Logger.Warn("topology not cached", "err", err)
	}
}

func (s *Server) handleKnown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.Engine.Known()
		writeJSON(w, http.StatusOK, map[string]any{
			"known": list,
			"count": len(list),
		})
	case http.MethodPost:
		var req struct {
			Name    string `json:"name"`
			Monitor bool   `json:"monitor"`
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil || json.Unmarshal(body, &req) != nil || strings.TrimSpace(req.Name) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !s.Engine.SetMonitor(req.Name, req.Monitor) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Engine.Reset()
	if s.History != nil {
		s.History.Clear()
	}
	s.Stats.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n := s.Engine.Persist(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "known": n})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
