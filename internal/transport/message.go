// Package transport implements the per-agent messaging layer: bounded
// priority queues, a static router, a reliability tracker with retry and
// ack timeout, checksum-verified integrity, TTL expiry, and an optional
// compressed wire format. Grounded on the teacher's RedisTaskQueue
// (orchestration/redis_task_queue.go) for the retry-with-timestamp-refresh
// idiom, adapted from a single Redis-backed list into bounded in-memory
// per-agent queues with priority ordering and no cross-process durability.
package transport

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Priority is the message's scheduling priority; 1 is highest.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 2
	PriorityNormal  Priority = 3
	PriorityLow     Priority = 4
)

// DeliveryMode governs what guarantees a send carries.
type DeliveryMode string

const (
	DeliveryBestEffort     DeliveryMode = "best_effort"
	DeliveryReliable       DeliveryMode = "reliable"
	DeliveryRequestResponse DeliveryMode = "request_response"
	DeliveryOrdered        DeliveryMode = "ordered"
)

// Compression names a supported payload compression algorithm.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZlib Compression = "zlib"
)

// MessageType identifies a message's semantic kind; handlers are
// registered per type.
type MessageType string

const (
	TypeTaskExecution    MessageType = "task_execution"
	TypeResponse         MessageType = "response"
	TypeAcknowledgement  MessageType = "acknowledgement"
	TypeStatusUpdate     MessageType = "status_update"
	TypePerformanceReport MessageType = "performance_report"
	TypeErrorReport      MessageType = "error_report"
)

// Header is a message's routing and delivery metadata, everything except
// the payload itself.
type Header struct {
	ID             string       `json:"id"`
	Sender         string       `json:"sender"`
	Receiver       string       `json:"receiver"`
	Type           MessageType  `json:"type"`
	Priority       Priority     `json:"priority"`
	Timestamp      time.Time    `json:"timestamp"`
	TTL            time.Duration `json:"ttl"`
	DeliveryMode   DeliveryMode `json:"delivery_mode"`
	CorrelationID  string       `json:"correlation_id,omitempty"`
	SequenceNumber uint64       `json:"sequence_number,omitempty"`
	Checksum       string       `json:"checksum"`
	Compression    Compression  `json:"compression,omitempty"`
}

// Message is a header plus its decoded payload, as handled in memory
// (handlers never see the wire form directly).
type Message struct {
	Header  Header
	Payload map[string]interface{}
}

// Expired reports whether this message has outlived its TTL as of now.
func (m *Message) Expired(now time.Time) bool {
	if m.Header.TTL <= 0 {
		return false
	}
	return now.Sub(m.Header.Timestamp) > m.Header.TTL
}

// newMessage builds a Message with a fresh id, current timestamp, and
// checksum computed over the canonical (uncompressed) payload.
func newMessage(sender, receiver string, typ MessageType, payload map[string]interface{}, priority Priority, mode DeliveryMode, ttl time.Duration, compression Compression) (*Message, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: canonicalize payload: %w", err)
	}
	return &Message{
		Header: Header{
			ID:           uuid.New().String(),
			Sender:       sender,
			Receiver:     receiver,
			Type:         typ,
			Priority:     priority,
			Timestamp:    time.Now(),
			TTL:          ttl,
			DeliveryMode: mode,
			Checksum:     checksum(canonical),
			Compression:  compression,
		},
		Payload: payload,
	}, nil
}

// canonicalize produces a deterministic byte encoding of a payload so the
// checksum is stable across processes: JSON with sorted map keys, which
// encoding/json already guarantees for map[string]interface{}.
func canonicalize(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal(payload)
}

func checksum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the checksum over the message's current
// payload and reports whether it matches the header.
func (m *Message) VerifyChecksum() bool {
	canonical, err := canonicalize(m.Payload)
	if err != nil {
		return false
	}
	return checksum(canonical) == m.Header.Checksum
}

// ToWire serializes a Message into the stable wire form: a JSON header
// followed by a newline followed by the base64-encoded, optionally
// compressed payload. The checksum in Header was computed over the
// uncompressed canonical payload and travels with the header unchanged.
func ToWire(m *Message) ([]byte, error) {
	canonical, err := canonicalize(m.Payload)
	if err != nil {
		return nil, err
	}

	compressed, err := compress(canonical, m.Header.Compression)
	if err != nil {
		return nil, err
	}

	headerBytes, err := json.Marshal(m.Header)
	if err != nil {
		return nil, fmt.Errorf("transport: encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(headerBytes)
	buf.WriteByte('\n')
	buf.WriteString(base64.StdEncoding.EncodeToString(compressed))
	return buf.Bytes(), nil
}

// FromWire parses bytes produced by ToWire back into a Message, verifying
// that the payload decompresses and decodes cleanly. It does not validate
// the checksum itself; callers check VerifyChecksum explicitly so the drop
// path can be counted by the caller.
func FromWire(wire []byte) (*Message, error) {
	idx := bytes.IndexByte(wire, '\n')
	if idx < 0 {
		return nil, fmt.Errorf("transport: malformed wire message, no header delimiter")
	}

	var header Header
	if err := json.Unmarshal(wire[:idx], &header); err != nil {
		return nil, fmt.Errorf("transport: decode header: %w", err)
	}

	encoded := wire[idx+1:]
	compressed, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("transport: decode base64 payload: %w", err)
	}

	canonical, err := decompress(compressed, header.Compression)
	if err != nil {
		return nil, fmt.Errorf("transport: decompress payload: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return nil, fmt.Errorf("transport: decode payload: %w", err)
	}

	return &Message{Header: header, Payload: payload}, nil
}

func compress(data []byte, algo Compression) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("transport: unknown compression algorithm %q", algo)
	}
}

func decompress(data []byte, algo Compression) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("transport: unknown compression algorithm %q", algo)
	}
}
