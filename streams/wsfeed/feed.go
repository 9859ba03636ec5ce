// Package wsfeed broadcasts pool events to websocket subscribers. It
// implements pool.EventSink; the pool emits while holding its lock, so the
// sink hands events off to a buffered channel and never blocks.
package wsfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/defistate/clamm-engine-go/pool"
)

// Config tunes the broadcaster. Zero values fall back to defaults.
type Config struct {
	// QueueSize is the per-client send buffer. A client that falls this far
	// behind is disconnected rather than allowed to stall the feed.
	QueueSize int
	// PingInterval is how often ping frames are sent to idle clients.
	PingInterval time.Duration
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueSize == 0 {
		out.QueueSize = 256
	}
	if out.PingInterval == 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// envelope wraps an event with its type name so subscribers can dispatch
// without reflection.
type envelope struct {
	Type  string     `json:"type"`
	Event pool.Event `json:"event"`
}

// Feed fans pool events out to websocket clients.
type Feed struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	events chan envelope
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func New(cfg Config) *Feed {
	resolved := cfg.withDefaults()
	f := &Feed{
		cfg:    resolved,
		logger: resolved.Logger.With("component", "wsfeed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		events:  make(chan envelope, resolved.QueueSize),
		done:    make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
	f.wg.Add(1)
	go f.broadcastLoop()
	return f
}

// Emit implements pool.EventSink. Events are dropped, with a log line, if the
// broadcast queue is full; the pool must never block on a slow feed.
func (f *Feed) Emit(evt pool.Event) {
	env := envelope{Type: eventName(evt), Event: evt}
	select {
	case f.events <- env:
	case <-f.done:
	default:
		f.logger.Warn("event dropped, broadcast queue full", "type", env.Type)
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, f.cfg.QueueSize)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	f.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	f.wg.Add(2)
	go f.writePump(c)
	go f.readPump(c)
}

func (f *Feed) broadcastLoop() {
	defer f.wg.Done()
	for {
		select {
		case env := <-f.events:
			data, err := json.Marshal(env)
			if err != nil {
				f.logger.Error("marshal event", "type", env.Type, "err", err)
				continue
			}
			f.mu.Lock()
			for c := range f.clients {
				select {
				case c.send <- data:
				default:
					// Slow client. Drop it so one stalled reader cannot
					// back up everyone else.
					delete(f.clients, c)
					close(c.send)
				}
			}
			f.mu.Unlock()
		case <-f.done:
			return
		}
	}
}

func (f *Feed) writePump(c *client) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.drop(c)
				return
			}
		case <-f.done:
			c.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump discards inbound frames. The feed is one-way; reading is still
// required to notice closes and answer pings.
func (f *Feed) readPump(c *client) {
	defer f.wg.Done()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			f.drop(c)
			return
		}
	}
}

func (f *Feed) drop(c *client) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
	c.conn.Close()
}

// Close disconnects every client and stops the broadcast loop.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()

	close(f.done)
	f.wg.Wait()
	return nil
}

// ClientCount reports the number of connected subscribers.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func eventName(evt pool.Event) string {
	switch evt.(type) {
	case pool.MintEvent:
		return "mint"
	case pool.BurnEvent:
		return "burn"
	case pool.CollectEvent:
		return "collect"
	case pool.SwapEvent:
		return "swap"
	case pool.FlashEvent:
		return "flash"
	case pool.IncreaseObservationCardinalityNextEvent:
		return "increase_observation_cardinality_next"
	default:
		return "unknown"
	}
}
