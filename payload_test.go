package dw1000

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadHeader(t *testing.T) {
	p := NewPayload(KindDiscovery, 0xAB)
	assert.Equal(t, Payload{PayloadVersion, 0x10, 0xAB}, p)

	v, err := p.Version()
	require.NoError(t, err)
	assert.Equal(t, uint8(PayloadVersion), v)
	k, err := p.Kind()
	require.NoError(t, err)
	assert.Equal(t, KindDiscovery, k)
	seq, err := p.Seq()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), seq)

	_, _, err = p.Timestamps()
	assert.ErrorIs(t, err, ErrInvalidArgument, "header-only payload has no report")
}

func TestPayloadReport(t *testing.T) {
	p := NewReport(KindResponderReport, 9, 0x0102030405, 1<<40+7)
	require.Len(t, p, reportLen)

	first, second, err := p.Timestamps()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405), first)
	assert.Equal(t, uint64(7), second, "timestamps are truncated to 40 bits")
	assert.Equal(t, []byte{0x05, 0x04, 0x03, 0x02, 0x01}, []byte(p[payloadFirstStampOff:payloadSecondStampOff]))
}

func TestPayloadRejects(t *testing.T) {
	_, err := Payload{}.Version()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = Payload{PayloadVersion, 0x10}.Kind()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	future := Payload{2, byte(KindDiscovery), 1}
	v, err := future.Version()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), v)
	_, err = future.Seq()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, future.is(KindDiscovery))

	short := NewReport(KindInitiatorReport, 1, 1, 2)[:reportLen-1]
	_, _, err = short.Timestamps()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMessageKindString(t *testing.T) {
	assert.Equal(t, "range-request", KindRangeRequest.String())
	assert.Equal(t, "initiator-report", KindInitiatorReport.String())
	assert.Equal(t, "kind(0x7F)", MessageKind(0x7F).String())
}
