package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coderelay/core/internal/database/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected indicates no companion device is connected
	ErrNotConnected = errors.New("channel not connected")
	// ErrPairingSuperseded indicates the pairing token is not the current one
	ErrPairingSuperseded = errors.New("pairing token superseded or already used")
	// ErrSendFailed indicates the device reported a delivery failure
	ErrSendFailed = errors.New("device reported send failure")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// ConnectPath is where companion devices open the websocket
	ConnectPath = "/channel/connect"
)

// Frame types exchanged with the companion device
const (
	FramePaired    = "paired"
	FrameSend      = "send"
	FrameAck       = "ack"
	FrameListChats = "list_chats"
	FrameChats     = "chats"
)

// EventLogger receives channel events
type EventLogger interface {
	LogInfo(module models.LogModule, action, message string, details interface{}) error
	LogWarn(module models.LogModule, action, message string, details interface{}) error
}

// Chat is a conversation the device can deliver to
type Chat struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Group        bool   `json:"group"`
	Participants int    `json:"participants,omitempty"`
}

// Frame is the JSON envelope used on the device websocket
type Frame struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	To     string `json:"to,omitempty"`
	Text   string `json:"text,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Chats  []Chat `json:"chats,omitempty"`
	Token  string `json:"token,omitempty"`
	Device string `json:"device,omitempty"`
}

// deviceConn is one live device connection with its in-flight requests
type deviceConn struct {
	ws     *websocket.Conn
	device string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

func (d *deviceConn) writeJSON(f Frame) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return d.ws.WriteJSON(f)
}

func (d *deviceConn) close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.ws.Close()
	})
}

// Gateway connects the relay to a paired companion device
type Gateway struct {
	machine   *Machine
	tokens    *TokenIssuer
	publicURL string
	logger    EventLogger
	upgrader  websocket.Upgrader

	mu        sync.Mutex
	current   *deviceConn
	pairingID string
}

// NewGateway creates a Gateway. publicURL is the base URL the device can reach.
func NewGateway(machine *Machine, tokens *TokenIssuer, publicURL string, logger EventLogger) *Gateway {
	return &Gateway{
		machine:   machine,
		tokens:    tokens,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Machine returns the state machine driven by this gateway
func (g *Gateway) Machine() *Machine {
	return g.machine
}

// Ready reports whether a device is connected
func (g *Gateway) Ready() bool {
	return g.machine.Ready()
}

// BeginPairing mints a pairing token and returns the payload to show as a QR
// code. Earlier pairing tokens stop working.
func (g *Gateway) BeginPairing() (string, time.Time, error) {
	token, id, expiresAt, err := g.tokens.IssuePairing()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue pairing token: %w", err)
	}

	g.mu.Lock()
	g.pairingID = id
	g.mu.Unlock()

	payload := g.publicURL + ConnectPath + "?token=" + url.QueryEscape(token)
	g.machine.OnQR(payload)
	g.logInfo("pairing", "Pairing started", map[string]interface{}{"expires_at": expiresAt})
	return payload, expiresAt, nil
}

// ServeWS upgrades a companion device connection. The device authenticates
// with either the current pairing token or a device token.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := g.authorize(r.URL.Query().Get("token"))
	if err != nil {
		log.Printf("[Channel] Rejected device connection: %v", err)
		g.logWarn("connect", "Device connection rejected", map[string]interface{}{"error": err.Error()})
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	device := claims.DeviceID
	if device == "" {
		device = r.URL.Query().Get("device")
	}
	if device == "" {
		device = "companion-" + uuid.NewString()[:8]
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Channel] WebSocket upgrade failed: %v", err)
		return
	}

	conn := &deviceConn{
		ws:      ws,
		device:  device,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}

	if claims.Kind == TokenPairing {
		deviceToken, expiresAt, err := g.tokens.IssueDevice(device)
		if err != nil {
			conn.close()
			log.Printf("[Channel] Failed to issue device token: %v", err)
			return
		}
		if err := conn.writeJSON(Frame{ID: uuid.NewString(), Type: FramePaired, Token: deviceToken, Device: device}); err != nil {
			conn.close()
			return
		}
		g.logInfo("paired", "Device paired", map[string]interface{}{"device": device, "token_expires_at": expiresAt})
	}

	g.attach(conn)
	go g.pingLoop(conn)
	g.readLoop(conn)
}

// authorize validates the token and consumes the pairing token on first use
func (g *Gateway) authorize(token string) (*DeviceClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := g.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind == TokenPairing {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.pairingID == "" || claims.ID != g.pairingID {
			return nil, ErrPairingSuperseded
		}
		g.pairingID = ""
	}
	return claims, nil
}

// attach makes conn the active device, closing any previous one
func (g *Gateway) attach(conn *deviceConn) {
	g.mu.Lock()
	previous := g.current
	g.current = conn
	g.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	g.machine.OnReady(conn.device)
	g.logInfo("connect", "Device connected", map[string]interface{}{"device": conn.device})
}

func (g *Gateway) detach(conn *deviceConn, reason string) {
	conn.close()

	g.mu.Lock()
	active := g.current == conn
	if active {
		g.current = nil
	}
	g.mu.Unlock()

	if active {
		g.machine.OnDisconnected(reason)
		g.logWarn("disconnect", "Device disconnected", map[string]interface{}{"device": conn.device, "reason": reason})
	}
}

func (g *Gateway) readLoop(conn *deviceConn) {
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := conn.ws.ReadJSON(&f); err != nil {
			reason := "connection closed"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			g.detach(conn, reason)
			return
		}

		switch f.Type {
		case FrameAck, FrameChats:
			conn.pendingMu.Lock()
			ch, ok := conn.pending[f.ID]
			delete(conn.pending, f.ID)
			conn.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		default:
			log.Printf("[Channel] Ignoring frame type %q from %s", f.Type, conn.device)
		}
	}
}

func (g *Gateway) pingLoop(conn *deviceConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				g.detach(conn, "ping failed: "+err.Error())
				return
			}
		case <-conn.done:
			return
		}
	}
}

// request sends a frame and waits for the reply with the same id
func (g *Gateway) request(ctx context.Context, f Frame) (Frame, error) {
	g.mu.Lock()
	conn := g.current
	g.mu.Unlock()
	if conn == nil {
		return Frame{}, ErrNotConnected
	}

	f.ID = uuid.NewString()
	reply := make(chan Frame, 1)
	conn.pendingMu.Lock()
	conn.pending[f.ID] = reply
	conn.pendingMu.Unlock()
	defer func() {
		conn.pendingMu.Lock()
		delete(conn.pending, f.ID)
		conn.pendingMu.Unlock()
	}()

	if err := conn.writeJSON(f); err != nil {
		g.detach(conn, "write failed: "+err.Error())
		return Frame{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	select {
	case r := <-reply:
		return r, nil
	case <-conn.done:
		return Frame{}, ErrNotConnected
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Send delivers text to a chat through the device
func (g *Gateway) Send(ctx context.Context, to, text string) error {
	reply, err := g.request(ctx, Frame{Type: FrameSend, To: to, Text: text})
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrSendFailed, reply.Error)
	}
	return nil
}

// ListChats asks the device for its groups and contacts
func (g *Gateway) ListChats(ctx context.Context) ([]Chat, error) {
	reply, err := g.request(ctx, Frame{Type: FrameListChats})
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("list chats: %s", reply.Error)
	}
	return reply.Chats, nil
}

// Close disconnects the active device
func (g *Gateway) Close() {
	g.mu.Lock()
	conn := g.current
	g.mu.Unlock()
	if conn != nil {
		conn.writeMu.Lock()
		conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.writeMu.Unlock()
		g.detach(conn, "server shutting down")
	}
}

func (g *Gateway) logInfo(action, message string, details interface{}) {
	if g.logger == nil {
		return
	}
	if err := g.logger.LogInfo(models.LogModuleChannel, action, message, details); err != nil {
		log.Printf("[Channel] Failed to persist log: %v", err)
	}
}

func (g *Gateway) logWarn(action, message string, details interface{}) {
	if g.logger == nil {
		return
	}
	if err := g.logger.LogWarn(models.LogModuleChannel, action, message, details); err != nil {
		log.Printf("[Channel] Failed to persist log: %v", err)
	}
}
