package kafka

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/inkwell/pkg/events"
)

// executionKey partitions by execution id so one execution's events keep
// their order.
func executionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}
