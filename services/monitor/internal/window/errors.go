package window

import "errors"

var (
	// ErrNonIncreasingTimestamp is returned by AppendAt when ts is not after the last label.
	ErrNonIncreasingTimestamp = errors.New("window: timestamp not after last label")

	// ErrInvalidCapacity is returned by Reset for a capacity below one.
	ErrInvalidCapacity = errors.New("window: capacity must be positive")

	// ErrLengthMismatch reports a sequence whose length differs from the label count.
	ErrLengthMismatch = errors.New("window: sequence length mismatch")

	// ErrUnordered reports labels that are not strictly increasing.
	ErrUnordered = errors.New("window: labels not strictly increasing")

	// ErrOverCapacity reports more labels than the configured capacity.
	ErrOverCapacity = errors.New("window: length exceeds capacity")

	// ErrStaleLast reports a last timestamp that does not match the final label.
	ErrStaleLast = errors.New("window: last timestamp does not match final label")
)
