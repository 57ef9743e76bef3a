package fdw

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindOptionMissing         ErrorKind = "option_missing"
	KindUnsupportedColumnType ErrorKind = "unsupported_column_type"
	KindUnmatchedParameter    ErrorKind = "unmatched_parameter"
	KindNoArrayParameter      ErrorKind = "no_array_parameter"
	KindValueParse            ErrorKind = "value_parse"
	KindRemoteProtocol        ErrorKind = "remote_protocol"
	KindPluginFault           ErrorKind = "plugin_fault"
	KindInvalidState          ErrorKind = "invalid_state"
	KindUnsupported           ErrorKind = "unsupported"
	KindSecretNotFound        ErrorKind = "secret_not_found"
)

// Error is the error type returned by wrappers and the lifecycle. Two errors
// match under errors.Is when their kinds are equal.
type Error struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

var (
	ErrOptionMissing         = &Error{Kind: KindOptionMissing}
	ErrUnsupportedColumnType = &Error{Kind: KindUnsupportedColumnType}
	ErrUnmatchedParameter    = &Error{Kind: KindUnmatchedParameter}
	ErrNoArrayParameter      = &Error{Kind: KindNoArrayParameter}
	ErrValueParse            = &Error{Kind: KindValueParse}
	ErrRemoteProtocol        = &Error{Kind: KindRemoteProtocol}
	ErrPluginFault           = &Error{Kind: KindPluginFault}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrUnsupported           = &Error{Kind: KindUnsupported}
	ErrSecretNotFound        = &Error{Kind: KindSecretNotFound}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the ErrorKind carried by err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func OptionMissing(name string) error {
	return &Error{Kind: KindOptionMissing, Detail: fmt.Sprintf("required option %q is not specified", name)}
}

func UnsupportedColumnType(typ string) error {
	return &Error{Kind: KindUnsupportedColumnType, Detail: fmt.Sprintf("column type %q is not supported", typ)}
}

func UnmatchedParameter(name string) error {
	return &Error{Kind: KindUnmatchedParameter, Detail: fmt.Sprintf("parameter %q has no matching qual", name)}
}

func NoArrayParameter(name string) error {
	return &Error{Kind: KindNoArrayParameter, Detail: fmt.Sprintf("parameter %q cannot take an array value", name)}
}

func ValueParse(target, text string, cause error) error {
	return &Error{Kind: KindValueParse, Detail: fmt.Sprintf("parse %s from %q", target, text), Cause: cause}
}

func RemoteProtocol(op string, cause error) error {
	return &Error{Kind: KindRemoteProtocol, Detail: op, Cause: cause}
}

func PluginFault(detail string, cause error) error {
	return &Error{Kind: KindPluginFault, Detail: detail, Cause: cause}
}

func InvalidState(op string, state State) error {
	return &Error{Kind: KindInvalidState, Detail: fmt.Sprintf("%s not allowed in state %s", op, state)}
}

func Unsupported(op, wrapper string) error {
	return &Error{Kind: KindUnsupported, Detail: fmt.Sprintf("%s is not supported by %s", op, wrapper)}
}

func SecretNotFound(id string) error {
	return &Error{Kind: KindSecretNotFound, Detail: fmt.Sprintf("vault secret %q not found", id)}
}
