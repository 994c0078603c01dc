package dedup

import (
	"strings"
	"time"
	"unicode"

	"github.com/matheus3301/smsd/internal/state"
	"github.com/matheus3301/smsd/internal/store"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Guard detects re-deliveries of a message already ingested: a secondary
// radio receiver or a carrier retransmission observing the same inbound
// SMS must not create a second visible message.
//
// The check is a heuristic over the most recent persisted messages
// system-wide: re-deliveries can arrive through a different receiver with
// a differently formatted sender address, so conversation scoping is not
// reliable.
type Guard struct {
	db        *store.DB
	window    time.Duration
	scanLimit int
}

// NewGuard creates a guard with the given dedup window and scan depth.
func NewGuard(db *store.DB, window time.Duration, scanLimit int) *Guard {
	return &Guard{db: db, window: window, scanLimit: scanLimit}
}

// IsDuplicate reports whether candidate matches a recently ingested
// RECEIVED message with the same normalized body inside the window.
func (g *Guard) IsDuplicate(candidate *store.Message) (bool, error) {
	recent, err := g.db.RecentMessages(g.scanLimit)
	if err != nil {
		return false, err
	}

	body := Normalize(candidate.Data)
	windowMillis := g.window.Milliseconds()
	for _, m := range recent {
		if m.Type != state.Received {
			continue
		}
		if Normalize(m.Data) != body {
			continue
		}
		delta := candidate.Timestamp - m.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta <= windowMillis {
			return true, nil
		}
	}
	return false, nil
}

// Normalize strips accents and surrounding whitespace so carrier-level
// re-encoding of the same text still compares equal. Both sides of every
// comparison go through this.
func Normalize(s string) string {
	// NFD exposes combining marks, runes.Remove drops them, NFC recomposes.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(out)
}
