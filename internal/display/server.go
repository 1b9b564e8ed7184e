package display

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/carconfig"
	"github.com/banshee-data/pitwall/internal/httputil"
	"github.com/banshee-data/pitwall/internal/monitoring"
)

// ResetFunc starts a new session. It is called by POST /api/session/reset.
type ResetFunc func(ctx context.Context) error

// CarSource exposes the current configuration. *carconfig.Store
// implements it.
type CarSource interface {
	Document() *carconfig.Document
}

// Server serves the dashboard endpoints.
type Server struct {
	hub      *Hub
	reset    ResetFunc
	gatherer prometheus.Gatherer
	cars     CarSource
	log      *zap.Logger
}

// NewServer returns a server streaming hub's events. reset may be nil, in
// which case the reset endpoint reports 503. A nil gatherer serves the
// default registry.
func NewServer(hub *Hub, reset ResetFunc, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		hub:      hub,
		reset:    reset,
		gatherer: gatherer,
		log:      monitoring.OrDefault(log).Named("display"),
	}
}

// SetCarSource enables GET /api/car.
func (s *Server) SetCarSource(cars CarSource) {
	s.cars = cars
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /api/session/reset", s.handleReset)
	mux.HandleFunc("GET /api/car", s.handleCar)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	s.log.Debug("dashboard connected", zap.String("subscriber", id))

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			s.log.Debug("dashboard disconnected", zap.String("subscriber", id))
			return
		}
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.reset == nil {
		httputil.ServiceUnavailable(w, "session reset not available")
		return
	}
	if err := s.reset(r.Context()); err != nil {
		s.log.Error("session reset failed", zap.Error(err))
		httputil.InternalServerError(w, "session reset failed")
		return
	}
	s.log.Info("session reset")
	s.hub.Broadcast(Event{Name: EventReset, Data: []byte("{}")})
	w.WriteHeader(http.StatusNoContent)
}

type sensorView struct {
	Slot      string   `json:"slot"`
	Name      string   `json:"name"`
	InputType string   `json:"input_type"`
	Unit      *string  `json:"unit,omitempty"`
	LimitMin  *float64 `json:"limit_min,omitempty"`
	LimitMax  *float64 `json:"limit_max,omitempty"`
}

type carView struct {
	Name     string                    `json:"name"`
	Theme    string                    `json:"theme"`
	Sensors  []sensorView              `json:"sensors"`
	Metadata carconfig.VehicleMetadata `json:"metadata"`
}

// handleCar describes the active car so the dashboard can pick its theme
// and lay out the gauges.
func (s *Server) handleCar(w http.ResponseWriter, _ *http.Request) {
	if s.cars == nil {
		httputil.ServiceUnavailable(w, "car configuration not available")
		return
	}
	active, ok := s.cars.Document().Active()
	if !ok {
		httputil.NotFound(w, "no active car")
		return
	}
	view := carView{
		Name:     active.Name,
		Theme:    active.Theme,
		Sensors:  make([]sensorView, 0, len(active.Sensors)),
		Metadata: active.Metadata,
	}
	for _, ss := range active.Sensors {
		view.Sensors = append(view.Sensors, sensorView{
			Slot:      ss.Slot,
			Name:      ss.Sensor.Name,
			InputType: string(ss.Sensor.InputType),
			Unit:      ss.Sensor.Unit,
			LimitMin:  ss.Sensor.LimitMin,
			LimitMax:  ss.Sensor.LimitMax,
		})
	}
	httputil.WriteJSONOK(w, view)
}

// ListenAndServe serves Handler on addr until ctx ends, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// streaming handlers only return once their subscription closes
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("dashboard server shutdown error", zap.Error(err))
		return srv.Close()
	}
	return nil
}
