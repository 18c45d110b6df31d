package errors

import "errors"

// Setup errors. These are the only failures that reach the process boundary.
var (
	ErrRootNotFound     = errors.New("root directory not found")
	ErrRootNotDirectory = errors.New("root is not a directory")
	ErrWatchSetup       = errors.New("establishing filesystem watch failed")
	ErrUnknownBackend   = errors.New("unknown watch backend")
	ErrNoFreePort       = errors.New("no free port in range")
)

// Certificate errors.
var (
	ErrCertNotFound      = errors.New("certificate file not found")
	ErrMkcertUnavailable = errors.New("mkcert is not available")
)

// Runtime errors.
var (
	ErrNotBootstrapped  = errors.New("synchronization loop started before bootstrap")
	ErrDocumentNotFound = errors.New("document not found")
)
