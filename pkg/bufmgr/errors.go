package bufmgr

// errors.go collects the module's sentinel error values. OutOfMemory and
// ErrFrameReused are the runtime failures that travel up through a
// caller, and GenericPageCache.Put returns ErrFrameValueRejected for a
// misuse; the rest are declared for programming-error and closed-state
// reporting, while accounting drift is absorbed and logged by the owning
// component.

import (
	"errors"

	"github.com/kvtree/bufmgr/internal/frame"
	"github.com/kvtree/bufmgr/internal/segment"
)

var (
	// ErrOutOfMemory is re-exported from internal/segment so callers never
	// need to import that package directly.
	ErrOutOfMemory = segment.ErrOutOfMemory

	// ErrFrameReused is re-exported from internal/frame.
	ErrFrameReused = frame.ErrFrameReused

	// ErrInvalidArgument marks a programming error: an unsupported
	// segment size, a negative revision, or an operation attempted on a
	// closed frame outside of the guard protocol.
	ErrInvalidArgument = errors.New("bufmgr: invalid argument")

	// ErrClosed marks an operation attempted after Close. No function in
	// this package returns it; BufferManager methods do not check for a
	// prior Close.
	ErrClosed = errors.New("bufmgr: closed")

	// ErrFrameValueRejected is returned by the generic page cache's Put
	// when called with a page-frame-typed value: the generic page cache
	// is for root/index pages only.
	ErrFrameValueRejected = errors.New("bufmgr: generic page cache rejects frame-typed values")
)
