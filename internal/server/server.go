// Package server exposes the WebSocket endpoint devices connect to, plus the
// metrics and health endpoints, and ties each accepted socket to a
// [gateway.Connection].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/auth"
	"github.com/voxwire/voxwire/internal/gateway"
	"github.com/voxwire/voxwire/internal/health"
)

// shutdownDrain is how long open connections get to finish when the server
// stops.
const shutdownDrain = 3 * time.Second

// Server accepts device WebSocket connections.
type Server struct {
	cfg  gateway.Deps
	auth *auth.Authenticator
	log  *slog.Logger

	wg sync.WaitGroup
}

// New builds a server around the shared connection dependencies.
func New(deps gateway.Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:  deps,
		auth: auth.New(deps.Config.Server.Auth),
		log:  log.With("component", "server"),
	}
}

// Handler returns the HTTP mux: the WebSocket endpoint at the configured
// path, Prometheus metrics at /metrics, and liveness and readiness probes at
// /healthz and /readyz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Config.Server.WebsocketPath, s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	var checks []health.Check
	if s.cfg.Memory != nil {
		checks = append(checks, health.Check{
			Name: "memory",
			Probe: func(ctx context.Context) error {
				_, err := s.cfg.Memory.Load(ctx, "readyz-probe")
				return err
			},
		})
	}
	health.New(checks...).Register(mux)
	return mux
}

// Run serves until ctx is cancelled, then drains open connections.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Config.Server.IP, strconv.Itoa(s.cfg.Config.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", addr, "path", s.cfg.Config.Server.WebsocketPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer cancel()
		err := srv.Shutdown(drainCtx)
		s.wg.Wait()
		return err
	})
	return g.Wait()
}

// handleWS authenticates the device and hands the socket to the gateway.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDFrom(r)
	if deviceID == "" {
		http.Error(w, "missing device-id", http.StatusBadRequest)
		return
	}
	name, err := s.auth.Authenticate(deviceID, r.Header.Get("Authorization"))
	if err != nil {
		s.log.Warn("rejected connection", "device_id", deviceID, "remote", clientIP(r))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // devices are not browsers
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	relay := r.URL.Query().Get("from") == "mqtt_gateway"
	s.log.Info("device connected",
		"device_id", deviceID, "name", name, "remote", clientIP(r), "relay", relay)

	// The handler blocks for the session: the request context stays alive
	// and ServeHTTP already runs one goroutine per connection.
	s.wg.Add(1)
	defer s.wg.Done()
	c := gateway.New(s.cfg, newWSTransport(conn), deviceID, relay)
	if err := c.Run(r.Context()); err != nil {
		s.log.Info("connection ended", "device_id", deviceID, "error", err)
	}
}

// deviceIDFrom reads the device identity from the header or query string.
func deviceIDFrom(r *http.Request) string {
	if id := r.Header.Get("device-id"); id != "" {
		return id
	}
	return r.URL.Query().Get("device-id")
}

// clientIP resolves the device address behind reverse proxies.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("x-real-ip"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("x-forwarded-for"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// wsTransport adapts a coder/websocket connection to [gateway.Transport].
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

var _ gateway.Transport = (*wsTransport)(nil)

func (t *wsTransport) Receive(ctx context.Context) (gateway.MessageKind, []byte, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return gateway.KindBinary, data, nil
	}
	return gateway.KindText, data, nil
}

func (t *wsTransport) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal message: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) SendBinary(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
