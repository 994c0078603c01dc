package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway is the wire boundary to the platform radio process. It listens
// on a profile-owned Unix domain socket; the radio side connects and
// exchanges newline-delimited JSON frames: inbound deliveries and
// delivery reports flow in through the Handler, send commands flow out
// and are acknowledged per-command. One radio connection is active at a
// time; a new connection replaces the old one.
type Gateway struct {
	socketPath string
	handler    *Handler
	logger     *zap.Logger

	listener net.Listener

	mu      sync.Mutex
	conn    net.Conn
	pending map[string]chan sendResult
}

type frame struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
	Address     string   `json:"address,omitempty"`
	Body        string   `json:"body,omitempty"`
	MimeType    string   `json:"mime_type,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`
	Sim         string   `json:"sim,omitempty"`
	GroupTitle  string   `json:"group_title,omitempty"`
	SenderLabel string   `json:"sender_label,omitempty"`
	Code        int      `json:"code,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type sendResult struct {
	code ResultCode
	err  error
}

// NewGateway creates a gateway bound to the profile's Unix domain socket.
func NewGateway(socketPath string, handler *Handler, logger *zap.Logger) (*Gateway, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Gateway{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger,
		listener:   listener,
		pending:    make(map[string]chan sendResult),
	}, nil
}

// Start accepts radio connections. Blocks until the listener is closed.
func (g *Gateway) Start() error {
	g.logger.Info("radio gateway listening", zap.String("socket", g.socketPath))
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return err
		}
		g.attach(conn)
		go g.readLoop(conn)
	}
}

// Stop closes the listener, the active connection and removes the socket
// file.
func (g *Gateway) Stop() {
	g.logger.Info("radio gateway stopping")
	_ = g.listener.Close()
	g.mu.Lock()
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()
	_ = os.Remove(g.socketPath)
}

// Send hands a message to the radio process and waits for its result
// frame. Implements Sender.
func (g *Gateway) Send(ctx context.Context, addresses []string, body string) (ResultCode, error) {
	id := uuid.NewString()
	ack := make(chan sendResult, 1)

	g.mu.Lock()
	conn := g.conn
	if conn == nil {
		g.mu.Unlock()
		return GenericFailure, fmt.Errorf("radio not connected")
	}
	g.pending[id] = ack
	g.mu.Unlock()
	defer g.forget(id)

	data, err := json.Marshal(frame{Type: "send", ID: id, Addresses: addresses, Body: body})
	if err != nil {
		return GenericFailure, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return GenericFailure, fmt.Errorf("write send command: %w", err)
	}

	select {
	case res := <-ack:
		return res.code, res.err
	case <-ctx.Done():
		return GenericFailure, ctx.Err()
	}
}

func (g *Gateway) attach(conn net.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		g.logger.Warn("replacing radio connection")
		_ = g.conn.Close()
	}
	g.conn = conn
	g.logger.Info("radio connected")
}

func (g *Gateway) detach(conn net.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == conn {
		g.conn = nil
		// In-flight sends can never be acknowledged now.
		for id, ch := range g.pending {
			ch <- sendResult{code: GenericFailure, err: fmt.Errorf("radio disconnected")}
			delete(g.pending, id)
		}
		g.logger.Warn("radio disconnected")
	}
}

func (g *Gateway) forget(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

func (g *Gateway) readLoop(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		g.detach(conn)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			g.logger.Warn("malformed gateway frame", zap.Error(err))
			continue
		}
		g.dispatch(f)
	}
	if err := scanner.Err(); err != nil {
		g.logger.Warn("gateway read error", zap.Error(err))
	}
}

func (g *Gateway) dispatch(f frame) {
	switch f.Type {
	case "inbound":
		g.handler.HandleInbound(InboundMessage{
			Addresses:     f.Addresses,
			Body:          f.Body,
			MimeType:      f.MimeType,
			Timestamp:     f.Timestamp,
			SimIdentifier: f.Sim,
			GroupTitle:    f.GroupTitle,
			SenderLabel:   f.SenderLabel,
		})
	case "delivery_report":
		g.handler.HandleDeliveryReport(DeliveryReport{
			Address:   f.Address,
			Body:      f.Body,
			Timestamp: f.Timestamp,
		})
	case "send_result":
		g.mu.Lock()
		ch, ok := g.pending[f.ID]
		if ok {
			delete(g.pending, f.ID)
		}
		g.mu.Unlock()
		if !ok {
			g.logger.Warn("send result for unknown command", zap.String("id", f.ID))
			return
		}
		res := sendResult{code: ResultCode(f.Code)}
		if f.Error != "" && res.code == OK {
			res.code = GenericFailure
		}
		ch <- res
	default:
		g.logger.Warn("unknown gateway frame type", zap.String("type", f.Type))
	}
}
