package queue

import "errors"

// ErrConfig indicates the consumer was constructed or used with invalid
// or incomplete options.
var ErrConfig = errors.New("queue: invalid configuration")
