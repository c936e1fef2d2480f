package models

import "errors"

// ErrRetryable marks failures where the whole run should be restarted later from the same
// starting point rather than retried in-process.
var ErrRetryable = errors.New("retryable")
