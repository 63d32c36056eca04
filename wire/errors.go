package wire

import "errors"

// Sentinel errors shared by the transport package and the root package's
// wrapped equivalents. They live here, not in either importer, to keep
// transport free of a dependency on the root package.
var (
	ErrWriteFailed  = errors.New("wire: write to peer failed")
	ErrDecodeFailed = errors.New("wire: decode envelope failed")
	ErrPingTimeout  = errors.New("wire: ping timeout")
	ErrBindFailed   = errors.New("wire: bind failed")
	ErrClosed       = errors.New("wire: connection closed")
)
