// Package websocket provides the reconnecting client the market data
// feed rides on.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler receives every raw frame from the stream.
type MessageHandler func(message []byte)

// Client dials url and redials until Stop. The handler runs on the
// read goroutine; a slow handler backpressures the stream rather than
// dropping frames.
type Client struct {
	url     string
	handler MessageHandler

	mu            sync.Mutex
	conn          *websocket.Conn
	header        http.Header
	onConnected   func()
	reconnectWait time.Duration
	pingInterval  time.Duration
	writeWait     time.Duration
	pongWait      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient builds a client for url delivering frames to handler.
// Nothing is dialed until Start.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		pingInterval:  30 * time.Second,
		writeWait:     10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		tracer:        telemetry.GetTracer("ws-client"),
		msgCounter:    msgCounter,
		connCounter:   connCounter,
		latencyHist:   latencyHist,
	}
}

// SetPingConfig tunes the heartbeat: ping cadence, write deadline per
// ping, and how long a missing pong is tolerated before the connection
// is considered dead.
func (c *Client) SetPingConfig(interval, writeWait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.writeWait = writeWait
	c.pongWait = pongWait
}

// SetOnConnected registers a callback invoked after every successful
// dial, before the first frame is read. Subscriptions go here so they
// replay across reconnects.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetReconnectWait overrides the delay between redial attempts.
func (c *Client) SetReconnectWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.reconnectWait = d
	}
}

// SetHeader adds a handshake header, typically gateway auth.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header == nil {
		c.header = http.Header{}
	}
	c.header.Set(key, value)
}

// Send writes message as JSON on the current connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start spawns the dial-read-redial loop.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop tears the connection down and waits for the loop goroutines.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("stream goroutines did not exit in time", "url", c.url)
	}

	c.closeConn()
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.connect()
		if err != nil {
			c.logger.Error("stream connect failed", "url", c.url, "error", err.Error())
			if !c.pause() {
				return
			}
			continue
		}

		c.mu.Lock()
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		c.mu.Unlock()

		if onConnected != nil {
			onConnected()
		}

		keepAliveCtx, stopKeepAlive := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.keepAlive(keepAliveCtx, conn)
		}

		c.readFrames(conn)
		stopKeepAlive()

		if !c.pause() {
			return
		}
	}
}

// pause sleeps one reconnect interval, reporting false when the client
// is stopping.
func (c *Client) pause() bool {
	c.mu.Lock()
	wait := c.reconnectWait
	c.mu.Unlock()

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (c *Client) connect() (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(c.ctx, "ws.connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)))
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	header := c.header
	pongWait := c.pongWait
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// keepAlive pings the connection it was started for; pinning the conn
// keeps a stale heartbeat from ever touching a newer connection.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	c.mu.Lock()
	interval, wait := c.pingInterval, c.writeWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
				// A failed ping closes this conn so readFrames redials.
				_ = conn.Close()
				return
			}
		}
	}
}

// readFrames drains the connection until it errors, which is also how
// pong timeouts and Stop surface.
func (c *Client) readFrames(conn *websocket.Conn) {
	defer c.closeConn()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("stream read ended", "url", c.url, "error", err.Error())
			}
			return
		}

		start := time.Now()
		c.msgCounter.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
