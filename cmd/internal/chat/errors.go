package chat

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is).
var (
	ErrFetchInFlight      = errors.New("fetch_in_flight")
	ErrNoMorePages        = errors.New("no_more_pages")
	ErrNotReady           = errors.New("feed_not_ready")
	ErrStaleTicket        = errors.New("stale_ticket")
	ErrInvalidInput       = errors.New("invalid_input")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrAttachmentTooLarge = errors.New("attachment_too_large")
)

// Operation names carried by OpError.
const (
	OpFetchConversations = "fetch_conversations"
	OpStartConversation  = "start_conversation"
	OpFetchMessages      = "fetch_messages"
	OpSendMessage        = "send_message"
	OpEditMessage        = "edit_message"
	OpReactToMessage     = "react_to_message"
	OpUploadAttachment   = "upload_attachment"
)

// OpError reports a transport or server failure of a channel operation.
// Target is the id the operation addressed (conversation id, message id, page).
type OpError struct {
	Op     string
	Target string
	Err    error
}

func (e *OpError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ValidationError is a local failure detected before any network call.
type ValidationError struct {
	Field string
	Msg   string
	Kind  error
}

func (e *ValidationError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrInvalidInput
	}
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", kind, e.Msg)
	}
	return fmt.Sprintf("%v: %s: %s", kind, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrInvalidInput
	}
	return e.Kind
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg, Kind: ErrInvalidInput}
}

// IsTransport reports whether err came from the channel rather than local validation.
func IsTransport(err error) bool {
	var oe *OpError
	return errors.As(err, &oe)
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
