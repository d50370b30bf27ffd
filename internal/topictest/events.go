package topictest

import "github.com/topicview/go-topicview/event"

// Raw returns the raw event for path with the encoded form of payload.
func Raw(path, payload string) event.Raw {
	return event.Encode(path, []byte(payload))
}
