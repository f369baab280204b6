package chathub

import (
	"errors"

	"strangerchat/backend/internal/chat"
)

var (
	// ErrAlreadyInSession is reported when a paired user asks for a partner.
	ErrAlreadyInSession = errors.New("you are already in an active chat room")
	// ErrUndeliverable means the target has no live connection. It is
	// logged and counted, never sent to the caller.
	ErrUndeliverable = errors.New("no live connection")
)

const internalErrorMessage = "Internal server error"

// errorKind extends chat.Kind with the protocol-level errors.
func errorKind(err error) string {
	if errors.Is(err, ErrAlreadyInSession) {
		return "already_in_session"
	}
	return chat.Kind(err)
}

// clientMessage is the text carried by an error event.
func clientMessage(err error) string {
	if errors.Is(err, ErrAlreadyInSession) || chat.IsClientError(err) {
		return err.Error()
	}
	return internalErrorMessage
}
