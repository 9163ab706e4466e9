package processor

import (
	"context"
	"errors"
	"fmt"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/ingestion"
	"click-datastreams/internal/publisher"
	"click-datastreams/internal/state"
)

// ErrShardHalted is returned when an event routes to a shard that stopped
// after a fatal error.
var ErrShardHalted = errors.New("processor: shard halted")

// ErrorKindShardHalted marks dead letters for events routed to a halted shard.
const ErrorKindShardHalted = "ShardHalted"

// ErrorClass is the handling policy for a pipeline error.
type ErrorClass int

const (
	// ClassTransient errors are retried with backoff.
	ClassTransient ErrorClass = iota
	// ClassMalformed events are dead-lettered and never retried.
	ClassMalformed
	// ClassSemantic events are discarded and counted.
	ClassSemantic
	// ClassFatal errors halt the affected shard only.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassMalformed:
		return "malformed"
	case ClassSemantic:
		return "semantic"
	case ClassFatal:
		return "fatal"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// FatalError wraps an error that corrupted or may have corrupted shard state.
type FatalError struct {
	Shard int
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("shard %d: fatal: %v", e.Shard, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Classify maps err onto the error taxonomy. Unknown errors are transient.
func Classify(err error) ErrorClass {
	var fatal *FatalError
	var decode *ingestion.DecodeError
	switch {
	case errors.As(err, &fatal), errors.Is(err, ErrShardHalted):
		return ClassFatal
	case errors.As(err, &decode):
		return ClassMalformed
	case errors.Is(err, state.ErrInvariantViolation):
		return ClassSemantic
	case errors.Is(err, publisher.ErrBufferFull),
		errors.Is(err, bus.ErrQueueFull),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassTransient
}
