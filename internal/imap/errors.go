package imap

import "errors"

// ErrConnectionFailed is returned when a session could not be established
// after exhausting connect retries. Fatal for the current operation.
var ErrConnectionFailed = errors.New("imap connection failed")

// ErrFolderUnavailable is returned when a named folder does not exist or
// cannot be selected. For the Sent folder this triggers the conservative
// "treat everything as unanswered" degrade instead of a hard failure.
var ErrFolderUnavailable = errors.New("imap folder unavailable")

// ErrDecodeFailure is returned when a single message's MIME structure could
// not be parsed. Scoped to that one message, never to a whole sync pass.
var ErrDecodeFailure = errors.New("message decode failure")

// ErrLoadFailed is returned when the content loader exhausted its retries for
// one message. The caller can offer a manual retry without affecting other
// messages.
var ErrLoadFailed = errors.New("message load failed")
