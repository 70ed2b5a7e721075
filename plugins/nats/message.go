package nats

import (
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/queuemux/core"
)

// toRaw adapts a JetStream message to core.RawMessage. The stream sequence
// identifies the message; the consumer sequence identifies the receipt.
func toRaw(msg jetstream.Msg) core.RawMessage {
	attrs := headerAttributes(msg.Headers())
	raw := core.RawMessage{
		Body:       msg.Data(),
		Attributes: attrs,
		Native:     msg,
	}

	md, err := msg.Metadata()
	if err != nil {
		attrs[core.AttrReceiveCount] = "1"
		return raw
	}
	raw.ID = strconv.FormatUint(md.Sequence.Stream, 10)
	raw.ReceiptHandle = strconv.FormatUint(md.Sequence.Consumer, 10)
	attrs[core.AttrReceiveCount] = strconv.FormatUint(md.NumDelivered, 10)
	attrs[core.AttrSentTimestamp] = strconv.FormatInt(md.Timestamp.UnixMilli(), 10)
	return raw
}

// headerAttributes keeps the first value of every header.
func headerAttributes(h nats.Header) map[string]string {
	attrs := make(map[string]string, len(h)+2)
	for k, v := range h {
		if len(v) > 0 {
			attrs[k] = v[0]
		}
	}
	return attrs
}
