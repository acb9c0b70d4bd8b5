package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evguard/internal/alerts"
	"evguard/internal/config"
	"evguard/internal/metrics"
	"evguard/internal/model"
)

type Server struct {
	cfg      *config.Manager
	state    *metrics.Store
	alerts   *alerts.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
	// transports bind once at startup, so their status is captured then and not reloaded
	ingest ingestStatus
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Ingest     ingestStatus    `json:"ingest"`
	Detection  detectionStatus `json:"detection"`
	Alerts     alertsStatus    `json:"alerts"`
}

type ingestStatus struct {
	REST         bool   `json:"rest"`
	SessionUDP   string `json:"session_udp,omitempty"`
	SessionKafka bool   `json:"session_kafka"`
	SignalUDP    string `json:"signal_udp,omitempty"`
	SignalTCP    string `json:"signal_tcp,omitempty"`
	FileTail     bool   `json:"file_tail"`
}

type detectionStatus struct {
	Window         string  `json:"window"`
	CountThreshold int     `json:"count_threshold"`
	Scope          string  `json:"scope"`
	MaxAllowed     float64 `json:"max_allowed"`
	SlopeThreshold float64 `json:"slope_threshold"`
}

type alertsStatus struct {
	Stored          int    `json:"stored"`
	DeliveryTimeout string `json:"delivery_timeout"`
	Kafka           bool   `json:"kafka"`
	Journal         bool   `json:"journal"`
}

func NewServer(cfg *config.Manager, state *metrics.Store, alertsStore *alerts.Store, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		state:    state,
		alerts:   alertsStore,
		gatherer: gatherer,
		logger:   logger,
		version:  version,
		ingest:   ingestStatusOf(cfg.Get().Ingest),
	}
}

// Start serves the operator API until ctx is done. It returns nil when the API is disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/state/", s.handleState)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/admin/clear", s.handleClear)
	return mux
}

func ingestStatusOf(in config.IngestConfig) ingestStatus {
	return ingestStatus{
		REST:         in.REST.Enabled,
		SessionUDP:   in.Session.UDPAddr,
		SessionKafka: in.Session.Kafka.Enabled,
		SignalUDP:    in.Signal.UDPAddr,
		SignalTCP:    in.Signal.TCPAddr,
		FileTail:     in.Signal.FileTail.Enabled,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest:     s.ingest,
		Detection: detectionStatus{
			Window:         cfg.Detection.Correlation.WindowDuration.String(),
			CountThreshold: cfg.Detection.Correlation.CountThreshold,
			Scope:          cfg.Detection.Correlation.Scope,
			MaxAllowed:     cfg.Detection.Signal.MaxAllowed,
			SlopeThreshold: cfg.Detection.Signal.SlopeThreshold,
		},
		Alerts: alertsStatus{
			DeliveryTimeout: cfg.Alerts.DeliveryTimeout.String(),
			Kafka:           cfg.Alerts.Kafka.Enabled,
			Journal:         cfg.Storage.Enabled,
		},
	}
	if s.alerts != nil {
		resp.Alerts.Stored = s.alerts.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAlerts lists stored alerts, oldest first. Query: limit, since (RFC3339), rule, key.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var f alerts.Filter
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.Since = ts
	}
	f.RuleID = model.RuleID(q.Get("rule"))
	f.Key = q.Get("key")

	list := []model.AlertRecord{}
	if s.alerts != nil {
		list = append(list, s.alerts.List(f)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleState serves /state, /state/{stream} and /state/{stream}/{key}.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/state"), "/")
	stream, key, _ := strings.Cut(path, "/")
	if stream != "" && stream != string(model.StreamSession) && stream != string(model.StreamSignal) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if key != "" {
		st, updated, ok := s.state.Get(model.Stream(stream), key)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":      st,
			"updated_at": updated.Format(time.RFC3339Nano),
		})
		return
	}
	all := s.state.List(model.Stream(stream))
	writeJSON(w, http.StatusOK, map[string]any{
		"state": all,
		"count": len(all),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.state.Clear()
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "state":
		s.state.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.logger != nil {
		s.logger.Info("operator cleared api data", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
