// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Message types for the OPC UA TCP layer (3-byte ASCII).
const (
	MessageTypeHello        = "HEL"
	MessageTypeAcknowledge  = "ACK"
	MessageTypeError        = "ERR"
	MessageTypeOpenChannel  = "OPN"
	MessageTypeCloseChannel = "CLO"
	MessageTypeMessage      = "MSG"
)

// Chunk types. The chunk type occupies the fourth header byte, i.e. the
// high 8 bits of the little-endian messageTypeAndChunkType word.
const (
	ChunkTypeFinal        byte = 'F'
	ChunkTypeIntermediate byte = 'C'
	ChunkTypeAbort        byte = 'A'
)

// MessageHeaderSize is the fixed size of the TCP message header.
const MessageHeaderSize = 8

// MessageHeader is the 8-byte header that starts every TCP message:
// three ASCII message-type bytes, one chunk-type byte, and the total
// message size (header included) as u32 little-endian.
type MessageHeader struct {
	MessageType [3]byte
	ChunkType   byte
	MessageSize uint32
}

// Encode encodes the message header.
func (h *MessageHeader) Encode() []byte {
	buf := make([]byte, MessageHeaderSize)
	copy(buf[0:3], h.MessageType[:])
	buf[3] = h.ChunkType
	binary.LittleEndian.PutUint32(buf[4:8], h.MessageSize)
	return buf
}

// Decode decodes the message header from bytes.
func (h *MessageHeader) Decode(data []byte) error {
	if len(data) < MessageHeaderSize {
		return fmt.Errorf("%w: header too short", ErrInvalidMessage)
	}
	copy(h.MessageType[:], data[0:3])
	h.ChunkType = data[3]
	h.MessageSize = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// writeMessageHeader patches a message header into the first 8 bytes of
// msg. The payload is encoded first; the header is written last, once
// the total length is known.
func writeMessageHeader(msg []byte, messageType string, chunkType byte) {
	copy(msg[0:3], messageType)
	msg[3] = chunkType
	binary.LittleEndian.PutUint32(msg[4:8], uint32(len(msg)))
}

// HelloMessage is the body of a HEL message.
type HelloMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// Encode encodes the Hello message body.
func (m *HelloMessage) Encode() []byte {
	urlBytes := []byte(m.EndpointURL)
	buf := make([]byte, 24+len(urlBytes))

	binary.LittleEndian.PutUint32(buf[0:4], m.ProtocolVersion)
	binary.LittleEndian.PutUint32(buf[4:8], m.ReceiveBufferSize)
	binary.LittleEndian.PutUint32(buf[8:12], m.SendBufferSize)
	binary.LittleEndian.PutUint32(buf[12:16], m.MaxMessageSize)
	binary.LittleEndian.PutUint32(buf[16:20], m.MaxChunkCount)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(urlBytes)))
	copy(buf[24:], urlBytes)

	return buf
}

// Decode decodes the Hello message body.
func (m *HelloMessage) Decode(data []byte) error {
	if len(data) < 24 {
		return fmt.Errorf("%w: hello message too short", ErrInvalidMessage)
	}

	m.ProtocolVersion = binary.LittleEndian.Uint32(data[0:4])
	m.ReceiveBufferSize = binary.LittleEndian.Uint32(data[4:8])
	m.SendBufferSize = binary.LittleEndian.Uint32(data[8:12])
	m.MaxMessageSize = binary.LittleEndian.Uint32(data[12:16])
	m.MaxChunkCount = binary.LittleEndian.Uint32(data[16:20])

	urlLen := int32(binary.LittleEndian.Uint32(data[20:24]))
	if urlLen < 0 {
		m.EndpointURL = ""
		return nil
	}
	if len(data) < int(24+urlLen) {
		return fmt.Errorf("%w: endpoint URL truncated", ErrInvalidMessage)
	}
	m.EndpointURL = string(data[24 : 24+urlLen])

	return nil
}

// AcknowledgeMessage is the body of an ACK message.
type AcknowledgeMessage struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// Encode encodes the Acknowledge message body.
func (m *AcknowledgeMessage) Encode() []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], m.ProtocolVersion)
	binary.LittleEndian.PutUint32(buf[4:8], m.ReceiveBufferSize)
	binary.LittleEndian.PutUint32(buf[8:12], m.SendBufferSize)
	binary.LittleEndian.PutUint32(buf[12:16], m.MaxMessageSize)
	binary.LittleEndian.PutUint32(buf[16:20], m.MaxChunkCount)
	return buf
}

// Decode decodes the Acknowledge message body.
func (m *AcknowledgeMessage) Decode(data []byte) error {
	if len(data) < 20 {
		return fmt.Errorf("%w: acknowledge message too short", ErrInvalidMessage)
	}

	m.ProtocolVersion = binary.LittleEndian.Uint32(data[0:4])
	m.ReceiveBufferSize = binary.LittleEndian.Uint32(data[4:8])
	m.SendBufferSize = binary.LittleEndian.Uint32(data[8:12])
	m.MaxMessageSize = binary.LittleEndian.Uint32(data[12:16])
	m.MaxChunkCount = binary.LittleEndian.Uint32(data[16:20])

	return nil
}

// ErrorMessage is the body of an ERR message.
type ErrorMessage struct {
	Error  StatusCode
	Reason string
}

// Encode encodes the Error message body.
func (m *ErrorMessage) Encode() []byte {
	reasonBytes := []byte(m.Reason)
	buf := make([]byte, 8+len(reasonBytes))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Error))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(reasonBytes)))
	copy(buf[8:], reasonBytes)
	return buf
}

// Decode decodes the Error message body. A reason length of -1 encodes
// the null string.
func (m *ErrorMessage) Decode(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: error message too short", ErrInvalidMessage)
	}

	m.Error = StatusCode(binary.LittleEndian.Uint32(data[0:4]))
	reasonLen := int32(binary.LittleEndian.Uint32(data[4:8]))
	if reasonLen < 0 {
		m.Reason = ""
		return nil
	}
	if len(data) < int(8+reasonLen) {
		return fmt.Errorf("%w: error reason truncated", ErrInvalidMessage)
	}
	m.Reason = string(data[8 : 8+reasonLen])

	return nil
}

// SequenceHeader precedes every secure conversation body.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

// RequestIDGenerator generates strictly increasing request ids within a
// channel lifetime.
type RequestIDGenerator struct {
	counter uint32
}

// Next returns the next request id.
func (g *RequestIDGenerator) Next() uint32 {
	return atomic.AddUint32(&g.counter, 1)
}

// Current returns the most recently issued request id.
func (g *RequestIDGenerator) Current() uint32 {
	return atomic.LoadUint32(&g.counter)
}

// Reset restarts the generator for a new channel.
func (g *RequestIDGenerator) Reset() {
	atomic.StoreUint32(&g.counter, 0)
}

// Encoder provides methods for encoding OPC UA built-in types in the
// binary encoding.
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder creates a new encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: new(bytes.Buffer)}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of bytes encoded so far.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// WriteBoolean writes a boolean value.
func (e *Encoder) WriteBoolean(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// WriteByte writes a byte value.
func (e *Encoder) WriteByte(v byte) {
	e.buf.WriteByte(v)
}

// WriteUInt16 writes a uint16 value.
func (e *Encoder) WriteUInt16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	e.buf.Write(buf[:])
}

// WriteUInt32 writes a uint32 value.
func (e *Encoder) WriteUInt32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.buf.Write(buf[:])
}

// WriteInt32 writes an int32 value.
func (e *Encoder) WriteInt32(v int32) {
	e.WriteUInt32(uint32(v))
}

// WriteUInt64 writes a uint64 value.
func (e *Encoder) WriteUInt64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	e.buf.Write(buf[:])
}

// WriteInt64 writes an int64 value.
func (e *Encoder) WriteInt64(v int64) {
	e.WriteUInt64(uint64(v))
}

// WriteDouble writes a float64 value.
func (e *Encoder) WriteDouble(v float64) {
	e.WriteUInt64(math.Float64bits(v))
}

// WriteString writes a string value. The empty string is encoded as the
// null string (length -1).
func (e *Encoder) WriteString(v string) {
	if v == "" {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf.WriteString(v)
}

// WriteByteString writes a byte string value.
func (e *Encoder) WriteByteString(v []byte) {
	if v == nil {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf.Write(v)
}

// opcuaEpochDiff is the number of 100ns ticks between the OPC UA epoch
// (1601-01-01) and the Unix epoch.
const opcuaEpochDiff = 116444736000000000

// WriteDateTime writes a DateTime value as 100ns ticks since 1601.
func (e *Encoder) WriteDateTime(t time.Time) {
	if t.IsZero() {
		e.WriteInt64(0)
		return
	}
	e.WriteInt64(t.UnixNano()/100 + opcuaEpochDiff)
}

// WriteGUID writes a GUID value.
func (e *Encoder) WriteGUID(v [16]byte) {
	e.WriteUInt32(binary.BigEndian.Uint32(v[0:4]))
	e.WriteUInt16(binary.BigEndian.Uint16(v[4:6]))
	e.WriteUInt16(binary.BigEndian.Uint16(v[6:8]))
	e.buf.Write(v[8:16])
}

// WriteNodeID writes a NodeID value using the most compact encoding.
func (e *Encoder) WriteNodeID(n NodeID) {
	switch n.Type {
	case NodeIDTypeNumeric:
		switch {
		case n.Namespace == 0 && n.Numeric <= 255:
			e.WriteByte(0x00)
			e.WriteByte(byte(n.Numeric))
		case n.Namespace <= 255 && n.Numeric <= 65535:
			e.WriteByte(0x01)
			e.WriteByte(byte(n.Namespace))
			e.WriteUInt16(uint16(n.Numeric))
		default:
			e.WriteByte(0x02)
			e.WriteUInt16(n.Namespace)
			e.WriteUInt32(n.Numeric)
		}
	case NodeIDTypeString:
		e.WriteByte(0x03)
		e.WriteUInt16(n.Namespace)
		e.WriteString(n.String)
	case NodeIDTypeGUID:
		e.WriteByte(0x04)
		e.WriteUInt16(n.Namespace)
		e.WriteGUID(n.GUID)
	case NodeIDTypeOpaque:
		e.WriteByte(0x05)
		e.WriteUInt16(n.Namespace)
		e.WriteByteString(n.Opaque)
	}
}

// WriteLocalizedText writes a LocalizedText value.
func (e *Encoder) WriteLocalizedText(l LocalizedText) {
	var encodingMask byte
	if l.Locale != "" {
		encodingMask |= 0x01
	}
	if l.Text != "" {
		encodingMask |= 0x02
	}
	e.WriteByte(encodingMask)
	if l.Locale != "" {
		e.WriteString(l.Locale)
	}
	if l.Text != "" {
		e.WriteString(l.Text)
	}
}

// WriteStatusCode writes a StatusCode value.
func (e *Encoder) WriteStatusCode(s StatusCode) {
	e.WriteUInt32(uint32(s))
}

// Decoder provides methods for decoding OPC UA built-in types.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a new decoder.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of remaining bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// ReadBoolean reads a boolean value.
func (d *Decoder) ReadBoolean() (bool, error) {
	b, err := d.ReadByte()
	return b != 0, err
}

// ReadByte reads a byte value.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrInvalidMessage)
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

// ReadUInt16 reads a uint16 value.
func (d *Decoder) ReadUInt16() (uint16, error) {
	if d.pos+2 > len(d.data) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrInvalidMessage)
	}
	v := binary.LittleEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

// ReadUInt32 reads a uint32 value.
func (d *Decoder) ReadUInt32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrInvalidMessage)
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

// ReadInt32 reads an int32 value.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUInt32()
	return int32(v), err
}

// ReadUInt64 reads a uint64 value.
func (d *Decoder) ReadUInt64() (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrInvalidMessage)
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

// ReadInt64 reads an int64 value.
func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUInt64()
	return int64(v), err
}

// ReadDouble reads a float64 value.
func (d *Decoder) ReadDouble() (float64, error) {
	v, err := d.ReadUInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadString reads a string value.
func (d *Decoder) ReadString() (string, error) {
	length, err := d.ReadInt32()
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	if d.pos+int(length) > len(d.data) {
		return "", fmt.Errorf("%w: string truncated", ErrInvalidMessage)
	}
	v := string(d.data[d.pos : d.pos+int(length)])
	d.pos += int(length)
	return v, nil
}

// ReadByteString reads a byte string value.
func (d *Decoder) ReadByteString() ([]byte, error) {
	length, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, nil
	}
	if d.pos+int(length) > len(d.data) {
		return nil, fmt.Errorf("%w: byte string truncated", ErrInvalidMessage)
	}
	v := make([]byte, length)
	copy(v, d.data[d.pos:d.pos+int(length)])
	d.pos += int(length)
	return v, nil
}

// ReadDateTime reads a DateTime value.
func (d *Decoder) ReadDateTime() (time.Time, error) {
	ticks, err := d.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	if ticks == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, (ticks-opcuaEpochDiff)*100).UTC(), nil
}

// ReadGUID reads a GUID value.
func (d *Decoder) ReadGUID() ([16]byte, error) {
	var guid [16]byte
	if d.pos+16 > len(d.data) {
		return guid, fmt.Errorf("%w: GUID truncated", ErrInvalidMessage)
	}

	data1 := binary.LittleEndian.Uint32(d.data[d.pos:])
	binary.BigEndian.PutUint32(guid[0:4], data1)
	d.pos += 4

	data2, _ := d.ReadUInt16()
	binary.BigEndian.PutUint16(guid[4:6], data2)

	data3, _ := d.ReadUInt16()
	binary.BigEndian.PutUint16(guid[6:8], data3)

	copy(guid[8:16], d.data[d.pos:d.pos+8])
	d.pos += 8

	return guid, nil
}

// ReadNodeID reads a NodeID value.
func (d *Decoder) ReadNodeID() (NodeID, error) {
	encodingByte, err := d.ReadByte()
	if err != nil {
		return NodeID{}, err
	}

	switch encodingByte & 0x0F {
	case 0x00: // two-byte numeric
		id, err := d.ReadByte()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: NodeIDTypeNumeric, Numeric: uint32(id)}, nil

	case 0x01: // four-byte numeric
		ns, err := d.ReadByte()
		if err != nil {
			return NodeID{}, err
		}
		id, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: NodeIDTypeNumeric, Namespace: uint16(ns), Numeric: uint32(id)}, nil

	case 0x02: // numeric
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		id, err := d.ReadUInt32()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: NodeIDTypeNumeric, Namespace: ns, Numeric: id}, nil

	case 0x03: // string
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		str, err := d.ReadString()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: NodeIDTypeString, Namespace: ns, String: str}, nil

	case 0x04: // GUID
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		guid, err := d.ReadGUID()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: NodeIDTypeGUID, Namespace: ns, GUID: guid}, nil

	case 0x05: // opaque
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		opaque, err := d.ReadByteString()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: NodeIDTypeOpaque, Namespace: ns, Opaque: opaque}, nil

	default:
		return NodeID{}, fmt.Errorf("%w: unknown NodeID type %d", ErrInvalidMessage, encodingByte&0x0F)
	}
}

// ReadLocalizedText reads a LocalizedText value.
func (d *Decoder) ReadLocalizedText() (LocalizedText, error) {
	encodingMask, err := d.ReadByte()
	if err != nil {
		return LocalizedText{}, err
	}

	var lt LocalizedText
	if encodingMask&0x01 != 0 {
		lt.Locale, err = d.ReadString()
		if err != nil {
			return LocalizedText{}, err
		}
	}
	if encodingMask&0x02 != 0 {
		lt.Text, err = d.ReadString()
		if err != nil {
			return LocalizedText{}, err
		}
	}
	return lt, nil
}

// ReadStatusCode reads a StatusCode value.
func (d *Decoder) ReadStatusCode() (StatusCode, error) {
	v, err := d.ReadUInt32()
	return StatusCode(v), err
}
