package bridge

import "errors"

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrNotStarted is returned by Watch before Start has run.
	ErrNotStarted = errors.New("bridge: not started")

	// ErrSubscriptionDeferred reports a node whose topic could not be
	// subscribed because the broker is unreachable. The node stays watched
	// and its topic is subscribed when the transport reconnects.
	ErrSubscriptionDeferred = errors.New("bridge: subscription deferred until broker connects")
)
