package session

import "errors"

// ErrInvalidTurnSequence reports an append that would break the
// conversation role pattern. It always indicates a programming error,
// never bad caller input, and is fatal to the session.
var ErrInvalidTurnSequence = errors.New("invalid turn sequence")

// ErrSessionClosed is returned by operations on a finished session.
var ErrSessionClosed = errors.New("session closed")
