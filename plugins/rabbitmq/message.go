package rabbitmq

import (
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/queuemux/core"
)

const deliveryCountHeader = "x-delivery-count"

// toRaw adapts an amqp.Delivery to core.RawMessage.
func toRaw(d amqp.Delivery) core.RawMessage {
	tag := strconv.FormatUint(d.DeliveryTag, 10)
	id := d.MessageId
	if id == "" {
		id = tag
	}

	attrs := make(map[string]string, len(d.Headers)+2)
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		} else {
			attrs[k] = fmt.Sprintf("%v", v)
		}
	}
	attrs[core.AttrReceiveCount] = strconv.Itoa(receiveCount(d))
	if !d.Timestamp.IsZero() {
		attrs[core.AttrSentTimestamp] = strconv.FormatInt(d.Timestamp.UnixMilli(), 10)
	}

	return core.RawMessage{
		ID:            id,
		ReceiptHandle: tag,
		Body:          d.Body,
		Attributes:    attrs,
		Native:        d,
	}
}

// receiveCount prefers the quorum queue delivery counter, which counts
// earlier deliveries, and falls back to the redelivered flag.
func receiveCount(d amqp.Delivery) int {
	switch v := d.Headers[deliveryCountHeader].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
