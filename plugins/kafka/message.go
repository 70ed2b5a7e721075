package kafka

import (
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/queuemux/core"
)

// receiveCountHeader carries the delivery count of republished messages.
const receiveCountHeader = "queuemux-receive-count"

// toRaw adapts a kafka.Message to core.RawMessage. Topic, partition and
// offset identify both the message and its receipt.
func toRaw(m kafka.Message) core.RawMessage {
	id := m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)

	attrs := make(map[string]string, len(m.Headers)+2)
	for _, h := range m.Headers {
		attrs[h.Key] = string(h.Value)
	}
	count := 1
	if n, err := strconv.Atoi(attrs[receiveCountHeader]); err == nil && n > 0 {
		count = n
	}
	delete(attrs, receiveCountHeader)
	attrs[core.AttrReceiveCount] = strconv.Itoa(count)
	if !m.Time.IsZero() {
		attrs[core.AttrSentTimestamp] = strconv.FormatInt(m.Time.UnixMilli(), 10)
	}

	return core.RawMessage{
		ID:            id,
		ReceiptHandle: id,
		Body:          m.Value,
		Attributes:    attrs,
		Native:        m,
	}
}

// retryMessage copies m for republishing with its receive count incremented.
func retryMessage(m kafka.Message, topic string) kafka.Message {
	count := 1
	headers := make([]kafka.Header, 0, len(m.Headers)+1)
	for _, h := range m.Headers {
		if h.Key == receiveCountHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				count = n
			}
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers, kafka.Header{Key: receiveCountHeader, Value: []byte(strconv.Itoa(count + 1))})

	return kafka.Message{
		Topic:   topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	}
}

// toHeaders converts a string map to Kafka headers.
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
