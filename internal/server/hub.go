package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/scene"
)

const (
	clientBuffer = 8
	writeWait    = 2 * time.Second
	readLimit    = 4096
)

var hubLogf = monitoring.Component("WS")

// Vec3 is a JSON-friendly point.
type Vec3 [3]float64

func vec3(v r3.Vec) Vec3 { return Vec3{v.X, v.Y, v.Z} }

func vec3s(vs []r3.Vec) []Vec3 {
	if len(vs) == 0 {
		return nil
	}
	out := make([]Vec3, len(vs))
	for i, v := range vs {
		out[i] = vec3(v)
	}
	return out
}

// SphereMessage is one mesh-mode particle.
type SphereMessage struct {
	ID     int     `json:"id"`
	Center Vec3    `json:"center"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color"`
}

// PointsMessage is the points-mode cloud.
type PointsMessage struct {
	IDs       []int   `json:"ids"`
	Positions []Vec3  `json:"positions"`
	Size      float64 `json:"size"`
	Color     string  `json:"color"`
}

// CameraMessage mirrors scene.CameraState.
type CameraMessage struct {
	Position Vec3    `json:"position"`
	Target   Vec3    `json:"target"`
	FOV      float64 `json:"fov"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// FrameMessage is the JSON pushed to /ws/frames subscribers.
type FrameMessage struct {
	Index   uint64          `json:"index"`
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
	Mode    string          `json:"mode"`
	Spheres []SphereMessage `json:"spheres,omitempty"`
	Points  *PointsMessage  `json:"points,omitempty"`
	Box     []Vec3          `json:"box,omitempty"`
	Trail   []Vec3          `json:"trail,omitempty"`
	Camera  CameraMessage   `json:"camera"`
}

// NewFrameMessage converts a render frame for the wire.
func NewFrameMessage(f *scene.RenderFrame) FrameMessage {
	cam := f.Camera
	msg := FrameMessage{
		Index: f.Index,
		Time:  f.Time,
		Camera: CameraMessage{
			Position: vec3(cam.Position),
			Target:   vec3(cam.Target),
			FOV:      cam.FOV,
			Width:    cam.Width,
			Height:   cam.Height,
		},
	}
	v := f.View
	if v == nil {
		return msg
	}
	msg.Seq = v.Seq
	msg.Mode = v.Mode.String()
	msg.Box = vec3s(v.Box)
	msg.Trail = vec3s(v.Trail)
	if v.Points != nil {
		msg.Points = &PointsMessage{
			IDs:       v.Points.IDs,
			Positions: vec3s(v.Points.Positions),
			Size:      v.Points.Size,
			Color:     projection.FormatColor(v.Points.Color),
		}
		return msg
	}
	msg.Spheres = make([]SphereMessage, len(v.Spheres))
	for i, s := range v.Spheres {
		msg.Spheres[i] = SphereMessage{
			ID:     s.ID,
			Center: vec3(s.Center),
			Radius: s.Radius,
			Color:  projection.FormatColor(s.Color),
		}
	}
	return msg
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans render frames out to websocket subscribers. A slow client
// loses frames rather than stalling the render loop.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *monitoring.Metrics

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(metrics *monitoring.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		metrics: metrics,
		clients: make(map[*wsClient]struct{}),
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams frames until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLogf("upgrade failed: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		conn.Close()
		return
	}
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.SetWSClients(len(h.clients))
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetWSClients(len(h.clients))
}

// readPump drains control frames; any read error ends the subscription.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			hubLogf("write failed: %v", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Render implements scene.Renderer.
func (h *Hub) Render(f *scene.RenderFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 || f == nil {
		return nil
	}
	b, err := json.Marshal(NewFrameMessage(f))
	if err != nil {
		return err
	}
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// dropped
		}
	}
	return nil
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.metrics.SetWSClients(0)
}

var _ scene.Renderer = (*Hub)(nil)
