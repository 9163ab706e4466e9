package ingestion

import (
	"errors"
	"fmt"
)

// ErrorKind is the reason code carried by a dead-letter record.
type ErrorKind string

const (
	KindMalformedPayload     ErrorKind = "MalformedPayload"
	KindMissingRequiredField ErrorKind = "MissingRequiredField"
	KindStaleTimestamp       ErrorKind = "StaleTimestamp"
	KindUnknownEventVersion  ErrorKind = "UnknownEventVersion"
	KindUnknownTopic         ErrorKind = "UnknownTopic"
)

// Sentinel errors matched by errors.Is against a *DecodeError.
var (
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrStaleTimestamp       = errors.New("stale timestamp")
	ErrUnknownEventVersion  = errors.New("unknown event version")
	ErrUnknownTopic         = errors.New("unknown topic")
)

var kindSentinels = map[ErrorKind]error{
	KindMalformedPayload:     ErrMalformedPayload,
	KindMissingRequiredField: ErrMissingRequiredField,
	KindStaleTimestamp:       ErrStaleTimestamp,
	KindUnknownEventVersion:  ErrUnknownEventVersion,
	KindUnknownTopic:         ErrUnknownTopic,
}

// DecodeError reports why a raw message could not become an event.
// Decode errors are never retried.
type DecodeError struct {
	Kind  ErrorKind
	Topic string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Topic, e.Kind)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *DecodeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func malformed(topic string, err error) *DecodeError {
	return &DecodeError{Kind: KindMalformedPayload, Topic: topic, Err: err}
}

func missing(topic, field string) *DecodeError {
	return &DecodeError{Kind: KindMissingRequiredField, Topic: topic, Field: field}
}

func invalidField(topic, field string, err error) *DecodeError {
	return &DecodeError{Kind: KindMalformedPayload, Topic: topic, Field: field, Err: err}
}

// KindOf returns the error kind of err, or KindMalformedPayload when err is
// not a *DecodeError.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindMalformedPayload
}
