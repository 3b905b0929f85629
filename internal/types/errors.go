package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("tilecache: file not found")
	ErrFormatUnsupported  = errors.New("tilecache: no decoder for file format")
	ErrCorruptHeader      = errors.New("tilecache: corrupt file header")
	ErrCorruptData        = errors.New("tilecache: corrupt pixel data")
	ErrTransientIO        = errors.New("tilecache: transient I/O failure")
	ErrBroken             = errors.New("tilecache: file previously failed to open")
	ErrInvalidHandle      = errors.New("tilecache: invalid or destroyed handle")
	ErrUsage              = errors.New("tilecache: usage error")
	ErrClosed             = errors.New("tilecache: cache destroyed")
	ErrUntiledRejected    = errors.New("tilecache: untiled image rejected (accept_untiled=0)")
	ErrUnmippedRejected   = errors.New("tilecache: unmipped image rejected (accept_unmipped=0)")
	ErrTileOutOfRange     = errors.New("tilecache: tile coordinates outside image")
	ErrUnbalancedRelease  = errors.New("tilecache: tile released more times than acquired")
	ErrChannelRange       = errors.New("tilecache: invalid channel range")
	ErrSubimageOutOfRange = errors.New("tilecache: subimage or miplevel out of range")
)

// CacheError wraps a failure with the operation and file it occurred on.
type CacheError struct {
	Op   string
	File string
	Err  error
}

func (e *CacheError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("tilecache %s [%s]: %v", e.Op, e.File, e.Err)
	}
	return fmt.Sprintf("tilecache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func NewCacheError(op, file string, err error) *CacheError {
	return &CacheError{Op: op, File: file, Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBroken reports whether err marks a file as unusable: poisoned by an
// earlier failure, or corrupt at the header or pixel level.
func IsBroken(err error) bool {
	return errors.Is(err, ErrBroken) ||
		errors.Is(err, ErrCorruptHeader) ||
		errors.Is(err, ErrCorruptData)
}

func IsInvalidHandle(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}

// IsRetryable reports whether an operation that returned err may succeed on
// retry. Only transient I/O failures qualify; decode errors, missing files,
// and misuse never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientIO)
}
