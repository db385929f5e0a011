package tailer

import "errors"

// ErrExhausted is returned by Next when the current tail sequence has ended.
// Call Reset with the acknowledged cursor to poll again.
var ErrExhausted = errors.New("tail sequence exhausted")
