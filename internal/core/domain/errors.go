package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomLocked        = errors.New("room is locked")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrPeerNotJoined     = errors.New("peer has not joined a room")
	ErrAlreadyJoined     = errors.New("peer already joined a room")
	ErrPeerClosed        = errors.New("peer closed")
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrRouterNotFound    = errors.New("router not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrRoomMismatch      = errors.New("target is not in the same room")
	ErrWrongDirection    = errors.New("transport direction does not allow this operation")

	ErrForbidden            = errors.New("forbidden")
	ErrCapabilitiesMismatch = errors.New("rtp capabilities cannot consume producer")
	ErrResourceExhausted    = errors.New("no media worker available")
	ErrInvalidParameters    = errors.New("invalid parameters")

	// ErrHandleClosed is returned by the media engine for calls on a closed handle.
	ErrHandleClosed = errors.New("handle closed")
	// ErrHandleClosedRace marks a handle that closed between lookup and use.
	ErrHandleClosedRace = errors.New("handle closed during call")
	ErrTransportTimeout = errors.New("transport connect timeout")
)

// IsBenign reports whether err is a stale-identifier condition that should
// never terminate a session.
func IsBenign(err error) bool {
	return errors.Is(err, ErrTransportNotFound) ||
		errors.Is(err, ErrProducerNotFound) ||
		errors.Is(err, ErrConsumerNotFound) ||
		errors.Is(err, ErrPeerNotFound) ||
		errors.Is(err, ErrHandleClosed) ||
		errors.Is(err, ErrHandleClosedRace)
}
