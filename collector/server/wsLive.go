package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/crowdsense/pkg/detect"
	"github.com/cyclopcam/crowdsense/pkg/telemetry"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// liveFeed pushes each accepted observation to connected websocket clients,
// so a dashboard sees counts as they arrive instead of polling /api/data.
type liveFeed struct {
	log      logs.Log
	lock     sync.Mutex
	clients  map[*liveClient]bool
	upgrader websocket.Upgrader
}

type liveClient struct {
	conn *websocket.Conn
	send chan *liveMessage
}

type liveMessage struct {
	DeviceID   string             `json:"deviceId"`
	Timestamp  time.Time          `json:"timestamp"`
	Count      int                `json:"count"`
	Detections []detect.Detection `json:"detections,omitempty"`
	Anomaly    bool               `json:"anomaly"`
}

func newLiveFeed(log logs.Log) *liveFeed {
	return &liveFeed{
		log:     log,
		clients: map[*liveClient]bool{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only telemetry; any origin may watch it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// broadcastObservation never blocks the ingest path. A client that can't
// keep up gets disconnected rather than applying backpressure.
func (f *liveFeed) broadcastObservation(deviceID string, rec *telemetry.Record, anomaly bool) {
	msg := &liveMessage{
		DeviceID:   deviceID,
		Timestamp:  rec.Timestamp,
		Count:      rec.Count,
		Detections: rec.Detections,
		Anomaly:    anomaly,
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	for client := range f.clients {
		select {
		case client.send <- msg:
		default:
			f.log.Infof("Live feed client too slow, dropping")
			delete(f.clients, client)
			close(client.send)
		}
	}
}

func (f *liveFeed) closeAll() {
	f.lock.Lock()
	defer f.lock.Unlock()
	for client := range f.clients {
		delete(f.clients, client)
		close(client.send)
	}
}

func (f *liveFeed) remove(client *liveClient) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.clients[client] {
		delete(f.clients, client)
		close(client.send)
	}
}

func (s *Server) httpLive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.live.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		s.Log.Infof("Live feed upgrade failed: %v", err)
		return
	}
	client := &liveClient{
		conn: conn,
		send: make(chan *liveMessage, 64),
	}
	s.live.lock.Lock()
	s.live.clients[client] = true
	s.live.lock.Unlock()
	s.Log.Infof("Live feed client connected from %v", requestIP(r))

	go s.live.writePump(client)
	s.live.readPump(client)
}

func (f *liveFeed) writePump(client *liveClient) {
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteJSON(msg); err != nil {
			break
		}
	}
	client.conn.Close()
}

// readPump discards incoming messages. Its job is to notice disconnects.
func (f *liveFeed) readPump(client *liveClient) {
	defer f.remove(client)
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
}
