package topictest

import (
	"github.com/topicview/go-topicview/event"
)

// Source is the subscription side of an event source, see topicview.Source.
type Source interface {
	Subscribe(key string, h event.Handler) error
	UnsubscribeAll(key string) error
}

// HookedSource provides hooks into the calls made to a Source. Use
// [NewHookedSource] to initialize it with no-op hooks, then overwrite the
// hooks to, e.g., synchronize tests, count subscriptions or inject errors.
type HookedSource struct {
	src Source

	SubscribeBefore func(key string) error
	SubscribeAfter  func(key string, err error)

	UnsubscribeAllBefore func(key string) error
	UnsubscribeAllAfter  func(key string, err error)
}

var _ Source = (*HookedSource)(nil)

// NewHookedSource initializes a [HookedSource] with no-op hooks into calls to src.
func NewHookedSource(src Source) *HookedSource {
	return &HookedSource{
		src:                  src,
		SubscribeBefore:      func(string) error { return nil },
		SubscribeAfter:       func(string, error) {},
		UnsubscribeAllBefore: func(string) error { return nil },
		UnsubscribeAllAfter:  func(string, error) {},
	}
}

// Subscribe calls SubscribeBefore and, unless it returned an error, the
// wrapped source.
func (s *HookedSource) Subscribe(key string, h event.Handler) (err error) {
	defer func() { s.SubscribeAfter(key, err) }()
	if err := s.SubscribeBefore(key); err != nil {
		return err
	}
	return s.src.Subscribe(key, h)
}

// UnsubscribeAll calls UnsubscribeAllBefore and, unless it returned an
// error, the wrapped source.
func (s *HookedSource) UnsubscribeAll(key string) (err error) {
	defer func() { s.UnsubscribeAllAfter(key, err) }()
	if err := s.UnsubscribeAllBefore(key); err != nil {
		return err
	}
	return s.src.UnsubscribeAll(key)
}
