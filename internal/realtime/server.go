package realtime

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket connections on a hub.
type Handler struct {
	hub      *Hub
	cfg      Config
	logger   *slog.Logger
	ctx      context.Context
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler. Connection goroutines use ctx
// for outbound waits; cancelling it does not close connections, Hub.Run does.
func NewHandler(ctx context.Context, hub *Hub, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger.With("component", "realtime"),
		ctx:    context.WithoutCancel(ctx),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), r.Host, cfg)
		},
	}
	return h
}

// ServeHTTP upgrades the request and starts the connection's pumps. A
// rejected origin gets 403 from the upgrader.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h.hub, conn, h.cfg, h.logger)
	h.hub.Register(client)

	go client.writePump()
	go client.readPump(h.ctx)
}

// originAllowed accepts requests without an Origin, from the serving host,
// from a configured origin, and from loopback when AllowDevOrigin is set.
func originAllowed(origin, reqHost string, cfg Config) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, hostOnly(reqHost)) {
		return true
	}
	if cfg.AllowDevOrigin && (host == "localhost" || net.ParseIP(host).IsLoopback()) {
		return true
	}
	origin = strings.TrimSuffix(origin, "/")
	return slices.ContainsFunc(cfg.AllowedOrigins, func(allowed string) bool {
		return allowed != "" && strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin)
	})
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
