package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"evguard/internal/config"
)

type RESTServer struct {
	in     *Ingress
	logger *slog.Logger
}

func NewRESTServer(in *Ingress, logger *slog.Logger) *RESTServer {
	return &RESTServer{in: in, logger: logger}
}

// StartREST serves POST /sessions and POST /samples for producers that cannot speak UDP or Kafka.
func StartREST(ctx context.Context, cfg config.RESTConfig, in *Ingress, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", cfg.Addr)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRESTServer(in, logger).Handler(),
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
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/samples", s.handleSamples)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

type ingestResult struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
}

// handleSessions accepts one session payload per request. The caller's host is the sender
// identity when the payload carries none.
func (s *RESTServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var res ingestResult
	if err := s.in.HandleSession(r.Context(), body, remoteHost(r), "rest"); err != nil {
		res.Failed++
	} else {
		res.Accepted++
	}
	writeResult(w, res)
}

// handleSamples accepts one frame ([50,1,0,0]) or a batch of frames ([[50,1,0,0],[51,2,0,0]]).
func (s *RESTServer) handleSamples(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	frames := [][]any{}
	if len(raw) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw[0]), []byte("[")) {
		if err := json.Unmarshal(body, &frames); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var frame []any
		if err := json.Unmarshal(body, &frame); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		frames = append(frames, frame)
	}
	var res ingestResult
	for _, frame := range frames {
		if err := s.in.HandleFrameFields(r.Context(), frameFields(frame), "rest"); err != nil {
			res.Failed++
			continue
		}
		res.Accepted++
	}
	writeResult(w, res)
}

func frameFields(frame []any) []string {
	fields := make([]string, len(frame))
	for i, v := range frame {
		if v != nil {
			fields[i] = fmt.Sprint(v)
		}
	}
	return fields
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeResult(w http.ResponseWriter, res ingestResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Accepted == 0 && res.Failed > 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(res)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
