package tilecache

import (
	"github.com/LavishGent/tilecache/internal/types"
)

// CacheError wraps an operation, filename, and underlying cause.
type CacheError = types.CacheError

var (
	// ErrNotFound indicates a filename could not be resolved to a file.
	ErrNotFound = types.ErrNotFound
	// ErrFormatUnsupported indicates no decoder is registered for the file.
	ErrFormatUnsupported = types.ErrFormatUnsupported
	// ErrCorruptHeader indicates the file's metadata could not be read.
	ErrCorruptHeader = types.ErrCorruptHeader
	// ErrCorruptData indicates pixel data failed to decode.
	ErrCorruptData = types.ErrCorruptData
	// ErrTransientIO indicates an I/O failure that may succeed on retry.
	ErrTransientIO = types.ErrTransientIO
	// ErrBroken indicates the file previously failed and is poisoned until
	// invalidated.
	ErrBroken = types.ErrBroken
	// ErrInvalidHandle indicates a nil or foreign handle was passed.
	ErrInvalidHandle = types.ErrInvalidHandle
	// ErrUsage indicates invalid arguments such as an undersized buffer.
	ErrUsage = types.ErrUsage
	// ErrClosed indicates the cache has been destroyed.
	ErrClosed = types.ErrClosed
	// ErrUntiledRejected indicates an untiled file under accept_untiled=false.
	ErrUntiledRejected = types.ErrUntiledRejected
	// ErrUnmippedRejected indicates a single-level file under
	// accept_unmipped=false.
	ErrUnmippedRejected = types.ErrUnmippedRejected
	// ErrTileOutOfRange indicates tile coordinates outside the data window.
	ErrTileOutOfRange = types.ErrTileOutOfRange
	// ErrUnbalancedRelease indicates a release without a matching acquire.
	ErrUnbalancedRelease = types.ErrUnbalancedRelease
	// ErrChannelRange indicates an invalid [chBegin, chEnd) range.
	ErrChannelRange = types.ErrChannelRange
	// ErrSubimageOutOfRange indicates a subimage or miplevel index out of
	// bounds.
	ErrSubimageOutOfRange = types.ErrSubimageOutOfRange
)

// IsNotFound reports whether the error means the file does not exist.
func IsNotFound(err error) bool {
	return types.IsNotFound(err)
}

// IsBroken reports whether the error means the file is unusable, whether
// poisoned by an earlier failure or corrupt on disk.
func IsBroken(err error) bool {
	return types.IsBroken(err)
}

// IsInvalidHandle reports whether the error means a bad handle was passed.
func IsInvalidHandle(err error) bool {
	return types.IsInvalidHandle(err)
}

// IsRetryable reports whether the operation may succeed on retry.
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}
