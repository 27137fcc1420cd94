package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/assets"
	"github.com/emberlab/devgate/internal/config"
	"github.com/emberlab/devgate/internal/device"
	"github.com/emberlab/devgate/internal/metrics"
	"github.com/emberlab/devgate/internal/wifi"
	"github.com/emberlab/devgate/pkg/sdk"
)

const appPrefix = "/app"

// Devices is the request target and status source.
type Devices interface {
	Dispatch(ctx context.Context, req *sdk.Request) error
	Status() []device.Status
}

// Health reports workers that stopped sending heartbeats.
type Health interface {
	Stale() []string
}

type Deps struct {
	Bus     sdk.Bus
	Devices Devices
	Assets  *assets.Table
	AP      wifi.AccessPoint
	Health  Health
	Metrics *metrics.Metrics
}

type Server struct {
	cfg  atomic.Pointer[config.Config]
	log  *zap.Logger
	deps Deps
	r    *chi.Mux
	app  *appRoutes
	hub  *Hub
	sub  sdk.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	log = log.Named("http")
	s := &Server{log: log, deps: deps, r: r, app: &appRoutes{routes: make(map[string]http.Handler)}, hub: NewHub(log, deps.Metrics)}
	s.cfg.Store(cfg)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.routes()
	if deps.Bus != nil {
		s.sub = deps.Bus.Subscribe(s.onEvent)
	}
	return s
}

func (s *Server) Router() http.Handler      { return s.r }
func (s *Server) Hub() *Hub                 { return s.hub }
func (s *Server) Reload(cfg *config.Config) { s.cfg.Store(cfg) }

// Close stops bus relaying and disconnects every WebSocket client.
func (s *Server) Close() {
	s.cancel()
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.hub.CloseAll()
}

func (s *Server) routes() {
	s.r.Get("/ws", s.handleWebSocket)

	s.r.Handle(appPrefix, s.app)
	s.r.Handle(appPrefix+"/*", s.app)

	s.r.Get("/", s.handleRoot)
	s.r.Get("/*", s.handleRoot)

	_ = s.HandleApp("/app/healthz", http.HandlerFunc(s.handleHealth))
	_ = s.HandleApp("/app/devices", http.HandlerFunc(s.handleDevices))
	if s.deps.Metrics != nil {
		_ = s.HandleApp("/app/metrics", s.deps.Metrics.Handler())
	}
}

// HandleApp registers an application route. path must live under /app
// and is matched exactly; pattern syntax is rejected. It is safe to call
// while the server is handling requests.
func (s *Server) HandleApp(path string, h http.Handler) error {
	if path != appPrefix && !strings.HasPrefix(path, appPrefix+"/") {
		return fmt.Errorf("%w: app route %q must start with %s/", sdk.ErrInvalidArgument, path, appPrefix)
	}
	if strings.ContainsAny(path, "{}*") {
		return fmt.Errorf("%w: app route %q must be a plain path", sdk.ErrInvalidArgument, path)
	}
	s.app.handle(path, h)
	return nil
}

// appRoutes is the exact-match table behind /app. It is kept outside the
// chi tree so routes can be added after serving starts.
type appRoutes struct {
	mu     sync.RWMutex
	routes map[string]http.Handler
}

func (a *appRoutes) handle(path string, h http.Handler) {
	a.mu.Lock()
	a.routes[path] = h
	a.mu.Unlock()
}

func (a *appRoutes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	h := a.routes[r.URL.Path]
	a.mu.RUnlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Health != nil {
		if stale := s.deps.Health.Stale(); len(stale) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"stale": stale})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	status := []device.Status{}
	if s.deps.Devices != nil {
		status = s.deps.Devices.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// onEvent relays device state to every WebSocket client.
func (s *Server) onEvent(ev sdk.Event) {
	sc, ok := ev.(sdk.StateChanged)
	if !ok {
		return
	}
	b, err := json.Marshal(outbound{Type: typeStateChanged, Name: sc.Device, Data: sc.State, TS: sc.At})
	if err != nil {
		s.log.Error("encode state change", zap.String("device", sc.Device), zap.Error(err))
		return
	}
	s.hub.Broadcast(b)
}
