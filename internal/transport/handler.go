package transport

import (
	"context"

	"github.com/matheus3301/smsd/internal/bus"
	"go.uber.org/zap"
)

// Sender is the outbound half of the transport collaborator: it hands a
// composed message to the radio stack and reports the hand-off result.
// Transport errors are expressed through the result code; err is reserved
// for failures reaching the transport at all.
type Sender interface {
	Send(ctx context.Context, addresses []string, body string) (ResultCode, error)
}

// Handler receives raw transport callbacks, normalizes them and publishes
// domain events on the bus. It never calls the ingestion engine directly;
// the engine subscribes to the bus independently, so multiple receivers
// (default and secondary radio paths) can feed the same pipeline.
type Handler struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHandler creates a transport event handler.
func NewHandler(b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{bus: b, logger: logger}
}

// HandleInbound accepts a raw inbound delivery event.
func (h *Handler) HandleInbound(raw InboundMessage) {
	msg := NormalizeInbound(raw)
	if len(msg.Addresses) == 0 || (msg.Body == "" && msg.MimeType == "text/plain") {
		h.logger.Warn("dropping empty inbound event")
		return
	}
	h.bus.Publish(bus.KindInboundMessage, &msg)
}

// HandleDeliveryReport accepts a delivery confirmation for an earlier send.
func (h *Handler) HandleDeliveryReport(rep DeliveryReport) {
	if rep.Body == "" {
		h.logger.Warn("dropping delivery report without body")
		return
	}
	h.bus.Publish(bus.KindDeliveryReport, &rep)
}
