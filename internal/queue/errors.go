package queue

import "errors"

// Creation errors
var (
	ErrInvalidCapacity = errors.New("queue capacity must be greater than zero")
	ErrAllocation      = errors.New("queue storage allocation failed")
)

// Condition variable errors (package internal)
var (
	errTimedOut      = errors.New("cond wait timed out")
	errCanceled      = errors.New("cond wait canceled")
	errCondDestroyed = errors.New("cond destroyed while waiting")
)
