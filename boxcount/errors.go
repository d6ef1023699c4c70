package boxcount

import "errors"

// Canonical failure kinds shared by the CPU, host and GPU reducers.
var (
	ErrInvalidSize      = errors.New("grid edge must be a power of two")
	ErrInvalidDimension = errors.New("grid dimension must be 2, 3 or 4")
	ErrAllocation       = errors.New("buffer allocation failed")
	ErrDevice           = errors.New("device operation failed")
	ErrNoGPU            = errors.New("gpu unavailable")
)
