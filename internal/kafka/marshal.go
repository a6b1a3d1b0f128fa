package kafka

import (
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Header names carried by every enveloped event, so consumers can route
// before decoding the body.
const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func EventHeaders(eventType string, version int) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(version))},
	}
}
