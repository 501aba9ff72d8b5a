package dw1000

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultLedgerSize is the number of message IDs a Ledger remembers.
const DefaultLedgerSize = 10

// RelayMessage is a ranging result travelling through a mesh of relays.
// Its text form is "id,hops,roundTrip,reply,src".
type RelayMessage struct {
	MessageID string
	HopCount  int
	T1Delta   uint64
	T2Delta   uint64
	Src       string
}

// NewRelayMessage makes a message out of a measurement taken by src.
func NewRelayMessage(id string, hops int, m Measurement, src Address) RelayMessage {
	roundTrip, reply := m.Deltas()
	return RelayMessage{MessageID: id, HopCount: hops, T1Delta: roundTrip, T2Delta: reply, Src: src.String()}
}

func (m RelayMessage) MarshalText() ([]byte, error) {
	if m.MessageID == "" || strings.Contains(m.MessageID, ",") || strings.Contains(m.Src, ",") {
		return nil, invalidArgument("relay message fields must be non-empty and comma free")
	}
	return fmt.Appendf(nil, "%s,%d,%d,%d,%s", m.MessageID, m.HopCount, m.T1Delta, m.T2Delta, m.Src), nil
}

func (m *RelayMessage) UnmarshalText(b []byte) error {
	parsed, err := ParseRelayMessage(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseRelayMessage parses the text form of a relay message.
func ParseRelayMessage(s string) (RelayMessage, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return RelayMessage{}, invalidArgument("relay message has %d fields, want 5", len(parts))
	}
	if parts[0] == "" {
		return RelayMessage{}, invalidArgument("relay message without id")
	}
	hops, err := strconv.Atoi(parts[1])
	if err != nil {
		return RelayMessage{}, invalidArgument("hop count %q: %v", parts[1], err)
	}
	t1, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return RelayMessage{}, invalidArgument("t1 delta %q: %v", parts[2], err)
	}
	t2, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return RelayMessage{}, invalidArgument("t2 delta %q: %v", parts[3], err)
	}
	return RelayMessage{MessageID: parts[0], HopCount: hops, T1Delta: t1, T2Delta: t2, Src: parts[4]}, nil
}

// Ledger remembers recently relayed message IDs so that a message heard
// twice is relayed once.
// This type is concurrent safe.
type Ledger struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewLedger returns a ledger of size entries. A positive window also forgets
// IDs older than window; expiry then runs on a background goroutine for the
// life of the process, so prefer a zero window for short lived ledgers.
func NewLedger(size int, window time.Duration) (*Ledger, error) {
	if size <= 0 {
		return nil, invalidArgument("ledger size %d must be positive", size)
	}
	if window < 0 {
		return nil, invalidArgument("ledger window %s must not be negative", window)
	}
	return &Ledger{seen: expirable.NewLRU[string, struct{}](size, nil, window)}, nil
}

// Accept records msg. It returns the message to forward, with one hop
// spent, and whether it should be forwarded at all. Duplicates and messages
// with no hops left are not forwarded.
func (l *Ledger) Accept(msg RelayMessage) (RelayMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen.Contains(msg.MessageID) {
		globalLogger.Debug("relay: message " + msg.MessageID + " already processed")
		return RelayMessage{}, false
	}
	l.seen.Add(msg.MessageID, struct{}{})
	if msg.HopCount <= 0 {
		return RelayMessage{}, false
	}
	msg.HopCount--
	return msg, true
}

// Seen reports whether id is in the ledger.
func (l *Ledger) Seen(id string) bool { return l.seen.Contains(id) }

// Len returns the number of remembered IDs.
func (l *Ledger) Len() int { return l.seen.Len() }
