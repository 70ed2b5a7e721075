package core

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Envelope is the result of decoding a message body.
type Envelope struct {
	// Type is the registered type tag of Message.
	Type string

	// Message is the decoded value.
	Message any

	// Attributes travel alongside the message.
	Attributes MessageAttributes
}

// Serializer decodes raw message bodies. It must fail with an error wrapping
// ErrUnsupportedFormat when the body can never be decoded, and with any other
// error for failures that might be transient.
// Implement this interface for custom formats (Protobuf, Avro, etc.).
type Serializer interface {
	Deserialize(body []byte) (Envelope, error)
}

// SerializerFunc adapts a function to a Serializer.
type SerializerFunc func(body []byte) (Envelope, error)

func (f SerializerFunc) Deserialize(body []byte) (Envelope, error) { return f(body) }

// JSONSerializer decodes JSON envelopes of the form
//
//	{"type": "OrderPlaced", "message": {...}, "attributes": {"k": "v"}}
//
// Message types are registered explicitly with RegisterType; an unknown type
// tag or a body that is not an envelope is an unsupported format.
type JSONSerializer struct {
	mu    sync.RWMutex
	types map[string]func(json.RawMessage) (any, error)
}

// NewJSONSerializer returns a serializer with no registered types.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{types: make(map[string]func(json.RawMessage) (any, error))}
}

// RegisterType registers T under name. Decoded messages are *T.
func RegisterType[T any](s *JSONSerializer, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[name] = func(raw json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

type jsonEnvelope struct {
	Type       string            `json:"type"`
	Message    json.RawMessage   `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *JSONSerializer) Deserialize(body []byte) (Envelope, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: not a json envelope", ErrUnsupportedFormat)
	}

	s.mu.RLock()
	decode, ok := s.types[env.Type]
	s.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: no decoder for type %q", ErrUnsupportedFormat, env.Type)
	}

	msg, err := decode(env.Message)
	if err != nil {
		return Envelope{}, fmt.Errorf("queuemux: json: decode %q: %w", env.Type, err)
	}

	attrs := make(map[string]AttributeValue, len(env.Attributes))
	for k, v := range env.Attributes {
		attrs[k] = StringAttribute(v)
	}
	return Envelope{Type: env.Type, Message: msg, Attributes: NewMessageAttributes(attrs)}, nil
}

// MarshalJSONEnvelope encodes msg in the format JSONSerializer understands.
func MarshalJSONEnvelope(messageType string, msg any, attributes map[string]string) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("queuemux: json: encode %q: %w", messageType, err)
	}
	return json.Marshal(jsonEnvelope{Type: messageType, Message: raw, Attributes: attributes})
}
