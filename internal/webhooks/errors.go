package webhooks

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure surfaced to the caller of a tool
type ErrorKind string

const (
	KindConfig        ErrorKind = "config_error"
	KindValidation    ErrorKind = "validation_error"
	KindNotFound      ErrorKind = "not_found"
	KindConfiguration ErrorKind = "configuration_error"
	KindDelivery      ErrorKind = "delivery_error"
	KindUnknownTool   ErrorKind = "unknown_tool"
	KindInternal      ErrorKind = "internal_error"
)

// Error is the single error type returned by the webhook store, the sender
// and the tool operations. The Kind drives how callers react; Message is
// what ends up in front of the user.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error

	// Set for KindDelivery when the webhook answered
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, webhooks.ErrNotFound) works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Kind sentinels for errors.Is
var (
	ErrConfig        = &Error{Kind: KindConfig}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrDelivery      = &Error{Kind: KindDelivery}
	ErrUnknownTool   = &Error{Kind: KindUnknownTool}
)

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NewConfigError reports an unreadable, unparsable or malformed config file
func NewConfigError(message string, cause error) *Error {
	return &Error{Kind: KindConfig, Message: message, Err: cause}
}

// NewValidationError reports a missing or malformed argument
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("invalid argument '%s': %s", field, message)}
}

// NewNotFoundError reports a channel that is not configured
func NewNotFoundError(channel string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("channel not registered: %s", channel)}
}

// NewConfigurationError reports that no usable default channel resolves
func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// NewUnknownToolError reports an unrecognized tool name
func NewUnknownToolError(name string) *Error {
	return &Error{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool: %s", name)}
}
