package wasi_snapshot_preview1

// Errno are the error codes returned by WASI functions, encoded as the sole
// i32 result of each function in this shim.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-errno-enumu16
type Errno = uint32

const (
	// ErrnoSuccess means no error occurred.
	ErrnoSuccess Errno = 0
	// ErrnoBadf means a file descriptor is invalid.
	ErrnoBadf Errno = 8
	// ErrnoFault means a memory address is out of bounds.
	ErrnoFault Errno = 21
	// ErrnoInval means an argument is invalid.
	ErrnoInval Errno = 28
	// ErrnoIo means an I/O error occurred while writing a standard stream.
	ErrnoIo Errno = 29
	// ErrnoNosys means the function, or the requested mode of it, isn't implemented.
	ErrnoNosys Errno = 52
)
