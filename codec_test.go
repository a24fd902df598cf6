package uaclient

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		hello HelloMessage
	}{
		{
			name: "with endpoint url",
			hello: HelloMessage{
				ProtocolVersion:   0,
				ReceiveBufferSize: 65535,
				SendBufferSize:    65535,
				MaxMessageSize:    16777216,
				MaxChunkCount:     4,
				EndpointURL:       "opc.tcp://localhost:4840",
			},
		},
		{
			name: "empty endpoint url",
			hello: HelloMessage{
				ReceiveBufferSize: 8192,
				SendBufferSize:    8192,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.hello.Encode()
			var decoded HelloMessage
			require.NoError(t, decoded.Decode(data))
			assert.Equal(t, tt.hello, decoded)
		})
	}
}

func TestMessageHeaderSizeMatchesBytesWritten(t *testing.T) {
	body := (&HelloMessage{
		ReceiveBufferSize: 8192,
		SendBufferSize:    8192,
		EndpointURL:       "opc.tcp://plc:4840",
	}).Encode()

	msg := buildRawMessage(MessageTypeHello, body)

	var header MessageHeader
	require.NoError(t, header.Decode(msg))
	assert.Equal(t, "HEL", string(header.MessageType[:]))
	assert.Equal(t, ChunkTypeFinal, header.ChunkType)
	assert.Equal(t, uint32(len(msg)), header.MessageSize)
}

func TestMessageHeaderTooShort(t *testing.T) {
	var header MessageHeader
	err := header.Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestAcknowledgeMessageDecode(t *testing.T) {
	ack := AcknowledgeMessage{
		ProtocolVersion:   0,
		ReceiveBufferSize: 65535,
		SendBufferSize:    32768,
		MaxMessageSize:    0,
		MaxChunkCount:     0,
	}

	var decoded AcknowledgeMessage
	require.NoError(t, decoded.Decode(ack.Encode()))
	assert.Equal(t, ack, decoded)
}

func TestErrorMessageNullReason(t *testing.T) {
	// A reason length of -1 encodes the null string.
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], uint32(StatusBadTcpMessageTooLarge))
	binary.LittleEndian.PutUint32(data[4:8], 0xFFFFFFFF)

	var msg ErrorMessage
	require.NoError(t, msg.Decode(data))
	assert.Equal(t, StatusBadTcpMessageTooLarge, msg.Error)
	assert.Empty(t, msg.Reason)
}

func TestErrorMessageRoundTrip(t *testing.T) {
	msg := ErrorMessage{Error: StatusBadSecurityChecksFailed, Reason: "certificate rejected"}
	var decoded ErrorMessage
	require.NoError(t, decoded.Decode(msg.Encode()))
	assert.Equal(t, msg, decoded)
}

func TestNodeIDRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   NodeID
	}{
		{"two byte numeric", NewNumericNodeID(0, 84)},
		{"four byte numeric", NewNumericNodeID(3, 4242)},
		{"full numeric", NewNumericNodeID(300, 1000000)},
		{"string", NodeID{Type: NodeIDTypeString, Namespace: 2, String: "Demo.Static"}},
		{"opaque", NodeID{Type: NodeIDTypeOpaque, Namespace: 1, Opaque: []byte{0xDE, 0xAD}}},
		{"null", NodeID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder()
			e.WriteNodeID(tt.id)

			d := NewDecoder(e.Bytes())
			decoded, err := d.ReadNodeID()
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
			assert.Zero(t, d.Remaining())
		})
	}
}

func TestStringEncoding(t *testing.T) {
	e := NewEncoder()
	e.WriteString("")
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, e.Bytes(), "empty string encodes as null")

	d := NewDecoder(e.Bytes())
	s, err := d.ReadString()
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestDateTimeRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 123456700, time.UTC)

	e := NewEncoder()
	e.WriteDateTime(now)

	d := NewDecoder(e.Bytes())
	decoded, err := d.ReadDateTime()
	require.NoError(t, err)
	assert.True(t, now.Equal(decoded), "expected %v, got %v", now, decoded)
}

func TestDecoderTruncated(t *testing.T) {
	d := NewDecoder([]byte{0x05, 0x00, 0x00, 0x00, 'a'})
	_, err := d.ReadString()
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestRequestIDGenerator(t *testing.T) {
	var gen RequestIDGenerator
	assert.Equal(t, uint32(1), gen.Next())
	assert.Equal(t, uint32(2), gen.Next())
	assert.Equal(t, uint32(2), gen.Current())

	gen.Reset()
	assert.Equal(t, uint32(1), gen.Next())
}
