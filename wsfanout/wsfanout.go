// Package wsfanout implements the WebSocket Fan-out (spec.md §4.11): a
// job_id-keyed set of active subscribers, historical-replay-then-tail
// connect semantics, best-effort publish with disconnect-on-backpressure,
// and keep-alive ping/pong.
package wsfanout

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trailcast/orchestrator/collections"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
)

var logger = l3.Get()

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// HistoryStore provides the replay page connect() serves before tailing
// live events (spec.md §9 open question #3: the timestamp-T boundary).
type HistoryStore interface {
	// RecentLogs returns up to size log entries for jobID with
	// created_at <= asOf, newest first. connect() reverses them to
	// chronological order before replay.
	RecentLogs(jobID string, asOf time.Time, size int) ([]model.JobLogEntry, error)
}

// subscriber is one connected client for a job_id.
type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	jobID  string
	closed sync.Once
	stopCh chan struct{}
}

func (s *subscriber) close() {
	s.closed.Do(func() {
		close(s.stopCh)
		_ = s.conn.Close()
	})
}

// Fanout is the WebSocket Fan-out contract.
type Fanout interface {
	// Connect validates apiKey, replays history up to the connect-time
	// snapshot, then registers conn to receive subsequent Publish calls
	// for jobID until it disconnects.
	Connect(conn *websocket.Conn, jobID, apiKey string) error
	// Publish fans event out to every current subscriber of jobID.
	// Subscribers whose send fails or backs up are disconnected.
	Publish(jobID string, event []byte)
}

type fanout struct {
	history  HistoryStore
	apiKey   string
	pageSize int

	mu   sync.Mutex
	subs map[string]collections.Set[*subscriber]
}

// New constructs a Fanout. apiKey is compared in constant time against
// each connect() call's supplied key (spec.md §4.11 "constant-time
// compare"). historyPageSize bounds the replay page.
func New(history HistoryStore, apiKey string, historyPageSize int) Fanout {
	if historyPageSize <= 0 {
		historyPageSize = 100
	}
	return &fanout{
		history:  history,
		apiKey:   apiKey,
		pageSize: historyPageSize,
		subs:     make(map[string]collections.Set[*subscriber]),
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (f *fanout) Connect(conn *websocket.Conn, jobID, apiKey string) error {
	if !constantTimeEqual(apiKey, f.apiKey) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "invalid api_key"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return ErrUnauthorized
	}

	asOf := time.Now().UTC()
	var history []model.JobLogEntry
	if f.history != nil {
		var err error
		history, err = f.history.RecentLogs(jobID, asOf, f.pageSize)
		if err != nil {
			logger.WarnF("wsfanout: history lookup for job %s failed: %v", jobID, err)
		}
	}
	reverseLogs(history)

	sub := &subscriber{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		jobID:  jobID,
		stopCh: make(chan struct{}),
	}

	f.register(jobID, sub)
	go f.writePump(sub)
	go f.readPump(sub)

	for _, entry := range history {
		payload, err := encodeLogEntry(entry, true)
		if err != nil {
			continue
		}
		select {
		case sub.send <- payload:
		default:
			logger.WarnF("wsfanout: history replay dropped for job %s, client too slow", jobID)
		}
	}
	return nil
}

// register adds sub to jobID's subscriber set. The map is mutated under
// one critical section (spec.md §4.11 "Concurrency").
func (f *fanout) register(jobID string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[jobID]
	if !ok {
		set = collections.NewHashSet[*subscriber]()
		f.subs[jobID] = set
	}
	set.Add(sub)
}

func (f *fanout) unregister(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[sub.jobID]; ok {
		set.Remove(sub)
		if set.IsEmpty() {
			delete(f.subs, sub.jobID)
		}
	}
}

// Publish snapshots jobID's subscriber set under the map lock, then
// sends to each outside the lock (spec.md §4.11 "publishing holds the
// map lock only long enough to snapshot").
func (f *fanout) Publish(jobID string, event []byte) {
	f.mu.Lock()
	set, ok := f.subs[jobID]
	f.mu.Unlock()
	if !ok {
		return
	}

	it := set.Iterator()
	var snapshot []*subscriber
	for it.HasNext() {
		snapshot = append(snapshot, it.Next())
	}

	for _, sub := range snapshot {
		select {
		case sub.send <- event:
		default:
			logger.WarnF("wsfanout: disconnecting slow subscriber for job %s", jobID)
			f.unregister(sub)
			sub.close()
		}
	}
}

// writePump drains sub.send to the socket and emits idle-period pings.
func (f *fanout) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer f.unregister(sub)
	defer sub.close()

	for {
		select {
		case <-sub.stopCh:
			return
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames except client-initiated pings, which
// are answered with pong; a read timeout also triggers disconnect.
func (f *fanout) readPump(sub *subscriber) {
	defer f.unregister(sub)
	defer sub.close()

	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && string(data) == "ping" {
			// Route the reply through sub.send rather than writing to the
			// conn directly: writePump is the only goroutine allowed to
			// call conn.WriteMessage (gorilla/websocket permits at most
			// one concurrent writer per connection).
			select {
			case sub.send <- []byte("pong"):
			default:
				logger.WarnF("wsfanout: dropped pong for job %s, client too slow", sub.jobID)
			}
		}
		_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func reverseLogs(entries []model.JobLogEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
