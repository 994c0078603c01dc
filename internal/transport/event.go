package transport

import (
	"strings"
	"time"
)

// ResultCode is the transport's verdict on a send hand-off.
type ResultCode int

const (
	OK ResultCode = iota
	GenericFailure
	NoService
	NullPDU
	RadioOff
)

func (c ResultCode) String() string {
	switch c {
	case OK:
		return "OK"
	case GenericFailure:
		return "GENERIC_FAILURE"
	case NoService:
		return "NO_SERVICE"
	case NullPDU:
		return "NULL_PDU"
	case RadioOff:
		return "RADIO_OFF"
	}
	return "UNKNOWN"
}

// Failed reports whether the code is a definitive send failure.
func (c ResultCode) Failed() bool {
	return c != OK
}

// InboundMessage is a raw inbound delivery event from the radio or push
// collaborator.
type InboundMessage struct {
	Addresses     []string // originating addresses, first is the sender
	Body          string
	MimeType      string
	Timestamp     int64 // millis; zero means arrival time
	SimIdentifier string
	GroupTitle    string // set when the transport knows the group subject
	SenderLabel   string // display label for the sender inside a group
}

// DeliveryReport is a later confirmation that a sent message reached the
// recipient's device. It carries no stable message id: matching goes by
// exact body text plus conversation context.
type DeliveryReport struct {
	Address   string
	Body      string
	Timestamp int64
}

// NormalizeInbound cleans a raw inbound event: trims addresses, drops
// blanks, defaults the mime type and timestamp. Transports re-deliver
// events with sloppy whitespace; everything downstream assumes this ran.
func NormalizeInbound(raw InboundMessage) InboundMessage {
	out := raw
	out.Addresses = nil
	for _, a := range raw.Addresses {
		a = strings.TrimSpace(a)
		if a != "" {
			out.Addresses = append(out.Addresses, a)
		}
	}
	if out.MimeType == "" {
		out.MimeType = "text/plain"
	}
	if out.Timestamp == 0 {
		out.Timestamp = time.Now().UnixMilli()
	}
	return out
}
