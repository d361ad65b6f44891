// Package mesherr classifies failures raised while wiring and running the
// dataflow core so callers can react to each kind differently.
package mesherr

import (
	"errors"
	"strings"
)

// Class identifies the kind of failure.
type Class int

const (
	// Config marks wiring-time misconfiguration. Fatal to the wiring attempt.
	Config Class = iota + 1
	// UnsupportedType marks a payload type that no codec can carry.
	UnsupportedType
	// Invocation marks a transform method that failed or panicked.
	Invocation
	// Decode marks a payload that did not parse as the channel's type.
	Decode
	// Encode marks a value that could not be serialized for publishing.
	Encode
	// Transport marks send or receive failures at the transport boundary.
	Transport
)

func (c Class) String() string {
	switch c {
	case Config:
		return "config"
	case UnsupportedType:
		return "unsupported_type"
	case Invocation:
		return "invocation"
	case Decode:
		return "decode"
	case Encode:
		return "encode"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error carries a Class plus where the failure happened.
type Error struct {
	Class     Class
	Component string
	Operation string
	Channel   string
	Err       error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Class.String())
	if e.Component != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Component)
		if e.Operation != "" {
			sb.WriteString(".")
			sb.WriteString(e.Operation)
		}
		sb.WriteString("]")
	}
	if e.Channel != "" {
		sb.WriteString(" channel ")
		sb.WriteString(e.Channel)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(class Class, component, operation string, err error) *Error {
	return &Error{Class: class, Component: component, Operation: operation, Err: err}
}

// WithChannel returns a copy of e tagged with channel.
func (e *Error) WithChannel(channel string) *Error {
	cp := *e
	cp.Channel = channel
	return &cp
}

func NewConfig(component, operation string, err error) *Error {
	return New(Config, component, operation, err)
}

func NewUnsupportedType(component, operation string, err error) *Error {
	return New(UnsupportedType, component, operation, err)
}

func NewInvocation(component, operation string, err error) *Error {
	return New(Invocation, component, operation, err)
}

func NewDecode(component, operation string, err error) *Error {
	return New(Decode, component, operation, err)
}

func NewEncode(component, operation string, err error) *Error {
	return New(Encode, component, operation, err)
}

func NewTransport(component, operation string, err error) *Error {
	return New(Transport, component, operation, err)
}

// ClassOf returns the class of the first classified error in err's chain, or 0.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return 0
}

func IsConfig(err error) bool          { return ClassOf(err) == Config }
func IsUnsupportedType(err error) bool { return ClassOf(err) == UnsupportedType }
func IsInvocation(err error) bool      { return ClassOf(err) == Invocation }
func IsDecode(err error) bool          { return ClassOf(err) == Decode }
func IsEncode(err error) bool          { return ClassOf(err) == Encode }
func IsTransport(err error) bool       { return ClassOf(err) == Transport }
