package event

import "errors"

// ErrNormalization indicates a payload could not be translated into
// canonical events. Callers log and drop; one corrupt message never stops
// a transport.
var ErrNormalization = errors.New("event: malformed payload")
