package linkscan

import "errors"

// ErrNotFound signals that a referenced record does not exist. A worker that
// hits it while processing a job fails the job immediately, without retry.
var ErrNotFound = errors.New("record not found")

// ErrInvalidRule signals a rule pattern rejected at creation time, e.g. a
// malformed regular expression or a non-numeric status_code pattern.
var ErrInvalidRule = errors.New("invalid ignore rule")
