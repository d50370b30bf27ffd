package topicview

import "github.com/topicview/go-topicview/event"

// Source is an external producer of raw path events, for example a [bus.Bus]
// that a transport publishes into. Events are keyed by the key derived from a
// connection identifier with [SourceKey].
//
// Subscribe must not invoke the handler synchronously.
type Source interface {
	// Subscribe registers h for events published under key.
	Subscribe(key string, h event.Handler) error

	// UnsubscribeAll removes every handler registered under key.
	UnsubscribeAll(key string) error
}

// SourceKey returns the subscription key for the messages of a connection.
func SourceKey(connectionID string) string {
	return "conn/" + connectionID + "/message"
}
