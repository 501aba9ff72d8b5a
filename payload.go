package dw1000

import "fmt"

// PayloadVersion is the schema version written in byte 0 of every payload
// this driver sends.
const PayloadVersion = 1

// MessageKind identifies what a payload carries.
type MessageKind uint8

const (
	KindDiscovery       MessageKind = 0x10
	KindDiscoveryReply  MessageKind = 0x11
	KindRangeRequest    MessageKind = 0x20
	KindResponderReport MessageKind = 0x21
	KindInitiatorReport MessageKind = 0x22
)

func (k MessageKind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindDiscoveryReply:
		return "discovery-reply"
	case KindRangeRequest:
		return "range-request"
	case KindResponderReport:
		return "responder-report"
	case KindInitiatorReport:
		return "initiator-report"
	default:
		return fmt.Sprintf("kind(0x%02X)", uint8(k))
	}
}

// Payload layout.
const (
	payloadVersionOff = 0
	payloadKindOff    = 1
	payloadSeqOff     = 2
	payloadHeaderLen  = 3

	payloadFirstStampOff  = payloadHeaderLen
	payloadSecondStampOff = payloadFirstStampOff + _TIMESTAMP_LEN
	reportLen             = payloadSecondStampOff + _TIMESTAMP_LEN
)

// Payload is the MAC payload of a ranging frame: version, kind, session
// sequence, then kind specific fields.
type Payload []byte

// NewPayload returns a header-only payload.
func NewPayload(kind MessageKind, seq uint8) Payload {
	return Payload{PayloadVersion, byte(kind), seq}
}

// NewReport returns a payload carrying two 40-bit timestamps. For a
// responder report they are (r2, t3); for an initiator report (t1, r4).
func NewReport(kind MessageKind, seq uint8, first, second uint64) Payload {
	p := make(Payload, reportLen)
	p[payloadVersionOff] = PayloadVersion
	p[payloadKindOff] = byte(kind)
	p[payloadSeqOff] = seq
	putTimestamp(p[payloadFirstStampOff:], first)
	putTimestamp(p[payloadSecondStampOff:], second)
	return p
}

func (p Payload) header() error {
	if len(p) < payloadHeaderLen {
		return invalidArgument("payload of %d bytes has no header", len(p))
	}
	if p[payloadVersionOff] != PayloadVersion {
		return invalidArgument("payload schema version %d, want %d", p[payloadVersionOff], PayloadVersion)
	}
	return nil
}

// Version returns the schema version byte.
func (p Payload) Version() (uint8, error) {
	if len(p) == 0 {
		return 0, invalidArgument("empty payload")
	}
	return p[payloadVersionOff], nil
}

// Kind returns the message kind.
func (p Payload) Kind() (MessageKind, error) {
	if err := p.header(); err != nil {
		return 0, err
	}
	return MessageKind(p[payloadKindOff]), nil
}

// Seq returns the embedded session sequence number.
func (p Payload) Seq() (uint8, error) {
	if err := p.header(); err != nil {
		return 0, err
	}
	return p[payloadSeqOff], nil
}

// Timestamps returns the two timestamps of a report.
func (p Payload) Timestamps() (first, second uint64, err error) {
	if err := p.header(); err != nil {
		return 0, 0, err
	}
	if len(p) < reportLen {
		return 0, 0, invalidArgument("report of %d bytes, want %d", len(p), reportLen)
	}
	first = RegisterValue(p[payloadFirstStampOff:payloadSecondStampOff]).Uint64()
	second = RegisterValue(p[payloadSecondStampOff:reportLen]).Uint64()
	return first, second, nil
}

func (p Payload) is(kind MessageKind) bool {
	k, err := p.Kind()
	return err == nil && k == kind
}

func putTimestamp(dst []byte, ts uint64) {
	copy(dst[:_TIMESTAMP_LEN], uintToRegister(ts&_TIMESTAMP_MASK, _TIMESTAMP_LEN))
}
