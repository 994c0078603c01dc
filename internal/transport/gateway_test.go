package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/smsd/internal/bus"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T) (*Gateway, *bus.Bus, net.Conn) {
	t.Helper()
	b := bus.New()
	socketPath := filepath.Join(t.TempDir(), "gw.sock")
	gw, err := NewGateway(socketPath, NewHandler(b, zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = gw.Start() }()
	t.Cleanup(gw.Stop)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Wait for the gateway to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for {
		gw.mu.Lock()
		attached := gw.conn != nil
		gw.mu.Unlock()
		if attached {
			return gw, b, conn
		}
		if time.Now().After(deadline) {
			t.Fatal("radio connection never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeFrame(t *testing.T, conn net.Conn, f frame) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatal(err)
	}
}

func TestGatewayInboundFrame(t *testing.T) {
	_, b, conn := newTestGateway(t)
	ch, unsub := b.Subscribe("transport.", 8)
	defer unsub()

	writeFrame(t, conn, frame{
		Type:      "inbound",
		Addresses: []string{"5551234567"},
		Body:      "hi",
		Timestamp: 12345,
	})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindInboundMessage {
			t.Fatalf("kind = %q", evt.Kind)
		}
		msg := evt.Payload.(*InboundMessage)
		if msg.Body != "hi" || msg.MimeType != "text/plain" {
			t.Errorf("payload = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never published")
	}
}

func TestGatewayDeliveryReportFrame(t *testing.T) {
	_, b, conn := newTestGateway(t)
	ch, unsub := b.Subscribe("transport.", 8)
	defer unsub()

	writeFrame(t, conn, frame{
		Type:    "delivery_report",
		Address: "5551234567",
		Body:    "on my way",
	})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindDeliveryReport {
			t.Fatalf("kind = %q", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery report never published")
	}
}

func TestGatewaySendRoundTrip(t *testing.T) {
	gw, _, conn := newTestGateway(t)

	// Radio side: read the command, acknowledge it.
	go func() {
		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			return
		}
		data, _ := json.Marshal(frame{Type: "send_result", ID: f.ID, Code: int(OK)})
		_, _ = conn.Write(append(data, '\n'))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := gw.Send(ctx, []string{"5551234567"}, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if code != OK {
		t.Errorf("code = %v, want OK", code)
	}
}

func TestGatewaySendFailureCode(t *testing.T) {
	gw, _, conn := newTestGateway(t)

	go func() {
		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var f frame
		_ = json.Unmarshal(scanner.Bytes(), &f)
		data, _ := json.Marshal(frame{Type: "send_result", ID: f.ID, Code: int(NoService)})
		_, _ = conn.Write(append(data, '\n'))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := gw.Send(ctx, []string{"5551234567"}, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if code != NoService {
		t.Errorf("code = %v, want NO_SERVICE", code)
	}
}

func TestGatewaySendWithoutRadio(t *testing.T) {
	b := bus.New()
	socketPath := filepath.Join(t.TempDir(), "gw.sock")
	gw, err := NewGateway(socketPath, NewHandler(b, zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer gw.Stop()

	_, err = gw.Send(context.Background(), []string{"5551234567"}, "hello")
	if err == nil {
		t.Fatal("expected error with no radio connection")
	}
}

func TestGatewaySendRadioDisconnects(t *testing.T) {
	gw, _, conn := newTestGateway(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := gw.Send(ctx, []string{"5551234567"}, "hello")
	if err == nil {
		t.Fatal("expected error when radio disconnects mid-send")
	}
}
