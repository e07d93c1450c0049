package livefeed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"pairs_trader/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	feedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairs_trader_livefeed_clients",
		Help: "Current number of connected live feed subscribers",
	})

	feedRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairs_trader_livefeed_rejected_total",
		Help: "Total number of rejected live feed connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(feedClients)
	prometheus.MustRegister(feedRejectedTotal)
}

// Server upgrades /ws requests into hub subscriptions. Admission runs in
// order: per-IP rate limit, global connection cap, origin check inside the
// upgrader, so cheap rejections happen before the upgrade spends anything.
type Server struct {
	hub            *Hub
	port           int
	logger         core.ILogger
	allowedOrigins []string
	production     bool
	upgrader       websocket.Upgrader
	srv            *http.Server
	mu             sync.Mutex

	connSemaphore chan struct{}

	ipLimiters sync.Map
	rateLimit  rate.Limit
	rateBurst  int
}

func NewServer(hub *Hub, port int, allowedOrigins []string, production bool, logger core.ILogger) *Server {
	s := &Server{
		hub:            hub,
		port:           port,
		logger:         logger.WithField("component", "live_feed_server"),
		allowedOrigins: allowedOrigins,
		production:     production,
		connSemaphore:  make(chan struct{}, 1000),
		rateLimit:      10,
		rateBurst:      20,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetMaxConnections resizes the global connection cap.
func (s *Server) SetMaxConnections(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connSemaphore = make(chan struct{}, max)
}

// SetRateLimit replaces the per-IP admission rate. Existing limiters are
// discarded so the new rate applies to every address.
func (s *Server) SetRateLimit(limit float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = rate.Limit(limit)
	s.rateBurst = burst
	s.ipLimiters = sync.Map{}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		s.logger.Warn("rejected subscriber without origin header", "remote_addr", r.RemoteAddr)
		feedRejectedTotal.WithLabelValues("origin").Inc()
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("rejected subscriber with unparseable origin", "origin", origin)
		feedRejectedTotal.WithLabelValues("origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			if s.production {
				s.logger.Warn("rejected wildcard origin in production", "origin", origin)
				feedRejectedTotal.WithLabelValues("origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	s.logger.Warn("rejected subscriber from unlisted origin",
		"origin", origin, "remote_addr", r.RemoteAddr)
	feedRejectedTotal.WithLabelValues("origin").Inc()
	return false
}

// Start begins serving on the configured port without blocking.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}
	s.mu.Unlock()

	go func() {
		s.logger.Info("starting live feed server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("live feed server failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts the server down. Hijacked websocket connections
// close when the hub does, not here.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping live feed server")
	return s.srv.Shutdown(ctx)
}

// Run serves until ctx is canceled. It drives the hub loop too, so one
// runner covers the whole feed.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.ipLimiter(ip).Allow() {
		s.logger.Warn("subscriber rate limit exceeded", "ip", ip)
		feedRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	s.mu.Lock()
	sem := s.connSemaphore
	s.mu.Unlock()
	select {
	case sem <- struct{}{}:
		feedClients.Inc()
		defer func() {
			<-sem
			feedClients.Dec()
		}()
	default:
		s.logger.Warn("subscriber cap reached", "remote_addr", r.RemoteAddr)
		feedRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the error response.
		return
	}

	client := NewClient(uuid.New().String())
	s.hub.Register(client)
	s.logger.Info("subscriber connected", "client_id", client.id, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.hub.Unregister(client)
	conn.Close()
	s.logger.Info("subscriber disconnected", "client_id", client.id)
}

// writePump drains the client's queue onto the wire and keeps the
// connection alive with pings.
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Receive():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn("subscriber write failed", "client_id", client.id, "error", err.Error())
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes the inbound side for pong handling. Subscribers never
// send data; a read error means the connection is gone.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("subscriber read failed", "client_id", client.id, "error", err.Error())
			}
			return
		}
	}
}

func (s *Server) ipLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	s.mu.Lock()
	limiter := rate.NewLimiter(s.rateLimit, s.rateBurst)
	s.mu.Unlock()
	actual, _ := s.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
