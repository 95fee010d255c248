// Package neterr defines the fatal and non-fatal error kinds raised by the
// connection engine, independent of which channel or codec produced them.
package neterr

import "fmt"

// Kind classifies an error for the purposes of connection disposition:
// fatal kinds drive the connection to Disconnected, non-fatal kinds are
// logged and dropped.
type Kind int

const (
	// KindUnknown is the zero value; never raised directly.
	KindUnknown Kind = iota
	KindPacketDeserialization
	KindPacketSerialization
	KindReceivedInvalidChannelId
	KindReliableChannelMaxMemoryReached
	KindInvalidSliceMessage
	KindDuplicatedSequence
	KindTimeout
	KindDisconnectedByPeer
	KindDisconnectedByLocal
	KindTokenExpired
	KindInvalidVersion
	KindInvalidProtocolId
	KindNotInHostList
)

func (k Kind) String() string {
	switch k {
	case KindPacketDeserialization:
		return "packet deserialization"
	case KindPacketSerialization:
		return "packet serialization"
	case KindReceivedInvalidChannelId:
		return "received invalid channel id"
	case KindReliableChannelMaxMemoryReached:
		return "reliable channel max memory reached"
	case KindInvalidSliceMessage:
		return "invalid slice message"
	case KindDuplicatedSequence:
		return "duplicated sequence"
	case KindTimeout:
		return "timeout"
	case KindDisconnectedByPeer:
		return "disconnected by peer"
	case KindDisconnectedByLocal:
		return "disconnected by local"
	case KindTokenExpired:
		return "token expired"
	case KindInvalidVersion:
		return "invalid version"
	case KindInvalidProtocolId:
		return "invalid protocol id"
	case KindNotInHostList:
		return "not in host list"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind must terminate the connection.
func (k Kind) Fatal() bool {
	switch k {
	case KindDuplicatedSequence:
		return false
	case KindInvalidSliceMessage:
		// Fatal only for reliable channels; unreliable callers check
		// Kind() themselves and choose to log+drop instead of propagating.
		return true
	default:
		return true
	}
}

// Error wraps a Kind with context. It supports errors.Is against the Kind's
// sentinel via Is, and errors.Unwrap for a wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, neterr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
