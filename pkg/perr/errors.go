// Package perr defines the sentinel error kinds shared across the backup
// engine. Components wrap these with fmt.Errorf("...: %w", ...) rather than
// defining their own ad-hoc error values, so callers can use errors.Is
// against a small, stable vocabulary.
package perr

import "errors"

var (
	// ErrChecksum indicates a checksum mismatch or checksum-pipeline failure.
	ErrChecksum = errors.New("checksum error")
	// ErrConfig indicates a malformed or inconsistent configuration.
	ErrConfig = errors.New("configuration error")
	// ErrParam indicates an invalid argument to an exported function.
	ErrParam = errors.New("invalid parameter")
	// ErrPathNotEmpty indicates an operation required an empty directory and found one that wasn't.
	ErrPathNotEmpty = errors.New("path is not empty")
	// ErrPostmasterRunning indicates the target cluster's postmaster.pid shows a live process.
	ErrPostmasterRunning = errors.New("postmaster appears to be running")
	// ErrProtocol indicates the database client or filesystem primitive violated its contract.
	ErrProtocol = errors.New("protocol error")
	// ErrAssert indicates an internal invariant was violated; always a programming error.
	ErrAssert = errors.New("internal assertion failed")
	// ErrMalformedManifest indicates a manifest file failed to parse.
	ErrMalformedManifest = errors.New("malformed manifest")
	// ErrNothingToExecute indicates a hook phase had no commands configured.
	ErrNothingToExecute = errors.New("nothing to execute")
	// ErrDisabled indicates hook execution was disabled in configuration.
	ErrDisabled = errors.New("hook execution is disabled")
)
