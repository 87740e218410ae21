// Package live implements the run's live-update channel: a websocket feed
// of step/instance events, rate-limited per client (events are not
// coalesced), with an
// optional Redis pub/sub fanout so multiple same-host processes watching
// the same run see the same stream.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/r3e-network/turbulence/internal/domain"
	"github.com/r3e-network/turbulence/internal/logging"
)

// Event is one message sent down the live channel.
type Event struct {
	Type       string             `json:"type"` // "step" | "instance" | "heartbeat" | "resync"
	RunID      string             `json:"run_id"`
	InstanceID string             `json:"instance_id,omitempty"`
	Seq        int                `json:"seq,omitempty"`
	Cursor     int64              `json:"cursor"`
	Observation *domain.Observation `json:"observation,omitempty"`
	Instance    *domain.Instance    `json:"instance,omitempty"`
}

const (
	throttleEventsPerWindow = 10
	throttleWindow          = 100 * time.Millisecond
	heartbeatInterval       = 5 * time.Second
)

// Bus fans events out to subscribed clients for a single run. Bus itself
// holds the full backlog in memory (bounded by the run's lifetime) so a
// client reconnecting with an older cursor can resync.
type Bus struct {
	mu        sync.Mutex
	backlog   []Event
	cursor    int64
	clients   map[chan Event]struct{}
	publish   func(Event) // optional Redis fanout hook
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{clients: make(map[chan Event]struct{})}
}

// SetPublisher installs an optional external fanout hook (e.g. Redis
// pub/sub) invoked alongside local delivery.
func (b *Bus) SetPublisher(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publish = fn
}

// Publish appends ev to the backlog (stamping its cursor) and delivers it
// to every currently-subscribed client, dropping the event for a client
// whose channel is full rather than blocking the publisher — a slow
// client falls behind and resyncs rather than stalling the run.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.cursor++
	ev.Cursor = b.cursor
	b.backlog = append(b.backlog, ev)
	clients := make([]chan Event, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	publish := b.publish
	b.mu.Unlock()

	for _, c := range clients {
		select {
		case c <- ev:
		default:
		}
	}
	if publish != nil {
		publish(ev)
	}
}

// deliverOnly appends an already-cursored event (received from a
// RedisFanout subscription) to the backlog and fans it out locally,
// without incrementing the cursor or re-publishing — the origin process
// already did both.
func (b *Bus) deliverOnly(ev Event) {
	b.mu.Lock()
	if ev.Cursor <= b.cursor {
		b.mu.Unlock()
		return
	}
	b.cursor = ev.Cursor
	b.backlog = append(b.backlog, ev)
	clients := make([]chan Event, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		select {
		case c <- ev:
		default:
		}
	}
}

// Subscribe registers a new client channel and returns backlog events with
// cursor > afterCursor for immediate resync, plus the live channel.
func (b *Bus) Subscribe(afterCursor int64) (<-chan Event, []Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 256)
	b.clients[ch] = struct{}{}

	var missed []Event
	for _, ev := range b.backlog {
		if ev.Cursor > afterCursor {
			missed = append(missed, ev)
		}
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.clients, ch)
		close(ch)
	}
	return ch, missed, unsubscribe
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes a Bus per run_id over websocket, rate-limiting each
// client's outbound events to throttleEventsPerWindow per throttleWindow.
// Events are sent one by one; none are merged.
type Server struct {
	log *logging.Logger

	mu    sync.Mutex
	buses map[string]*Bus
}

// NewServer builds a live Server with no runs registered yet.
func NewServer(log *logging.Logger) *Server {
	return &Server{log: log, buses: make(map[string]*Bus)}
}

// BusFor returns (creating if needed) the Bus for runID.
func (s *Server) BusFor(runID string) *Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buses[runID]
	if !ok {
		b = NewBus()
		s.buses[runID] = b
	}
	return b
}

// Router builds the gorilla/mux router exposing /runs/{run_id}/live.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/runs/{run_id}/live", s.handleWS).Methods(http.MethodGet)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	bus := s.BusFor(runID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var afterCursor int64
	if v := r.URL.Query().Get("cursor"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterCursor = n
		}
	}

	ch, missed, unsubscribe := bus.Subscribe(afterCursor)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	limiter := rate.NewLimiter(rate.Every(throttleWindow/throttleEventsPerWindow), throttleEventsPerWindow)

	for _, ev := range missed {
		ev.Type = "resync"
		if err := writeEvent(conn, limiter, ctx, ev); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, limiter, ctx, ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeEvent(conn, limiter, ctx, Event{Type: "heartbeat", RunID: runID}); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, limiter *rate.Limiter, ctx context.Context, ev Event) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	buf, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, buf)
}

func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
