package core

import (
	"maps"
	"slices"
)

// Attribute data types, mirroring the usual queue attribute typing.
const (
	AttributeString = "String"
	AttributeNumber = "Number"
	AttributeBinary = "Binary"
)

// AttributeValue is one typed message attribute.
type AttributeValue struct {
	DataType    string
	StringValue string
	BinaryValue []byte
}

// StringAttribute returns a string-typed attribute value.
func StringAttribute(s string) AttributeValue {
	return AttributeValue{DataType: AttributeString, StringValue: s}
}

// MessageAttributes is an immutable set of attributes carried alongside a
// decoded message, typically tracing or partition metadata.
type MessageAttributes struct {
	values map[string]AttributeValue
}

// NewMessageAttributes copies values into a new attribute set.
func NewMessageAttributes(values map[string]AttributeValue) MessageAttributes {
	cp := make(map[string]AttributeValue, len(values))
	for k, v := range values {
		cp[k] = cloneValue(v)
	}
	return MessageAttributes{values: cp}
}

// Get returns a copy of the attribute stored under key.
func (a MessageAttributes) Get(key string) (AttributeValue, bool) {
	v, ok := a.values[key]
	if !ok {
		return AttributeValue{}, false
	}
	return cloneValue(v), true
}

// String returns the string value of key, or "" when absent.
func (a MessageAttributes) String(key string) string {
	return a.values[key].StringValue
}

// Len returns the number of attributes.
func (a MessageAttributes) Len() int { return len(a.values) }

// Keys returns the attribute names in sorted order.
func (a MessageAttributes) Keys() []string {
	return slices.Sorted(maps.Keys(a.values))
}

func cloneValue(v AttributeValue) AttributeValue {
	if v.BinaryValue != nil {
		v.BinaryValue = slices.Clone(v.BinaryValue)
	}
	return v
}
