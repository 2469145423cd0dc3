package relation

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a relationship failure so the transport layer can pick
// a status code without inspecting messages.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidOperation
	KindNotFound
	KindForbidden
	KindUnauthorized
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindUnauthorized:
		return "Unauthorized"
	case KindConflict:
		return "Conflict"
	default:
		return "InternalFailure"
	}
}

// Error is returned by every state machine operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Internal wraps a store or transport fault.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: errors.WithStack(err)}
}

// KindOf returns the Kind carried by err, or KindInternal for any error
// that is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Messages shared by the state machine and its callers.
const (
	MsgSelf            = "cannot target yourself"
	MsgUserNotFound    = "user not found"
	MsgAlreadyFriends  = "already friends"
	MsgRequestExists   = "friend request already exists"
	MsgBlocked         = "relationship is blocked"
	MsgUnknownAction   = "unknown action"
	MsgRequestNotFound = "friend request not found"
	MsgNotAddressee    = "only the recipient can respond to this request"
	MsgNotPending      = "friend request is no longer pending"
	MsgNotFriends      = "not friends"
	MsgNotBlocked      = "no block to remove"
)
