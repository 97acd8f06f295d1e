package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrShipmentNotFound       = errors.New("shipment not found")
	ErrInvalidStateTransition = errors.New("invalid state for this operation")
	ErrLabelAlreadyAttached   = errors.New("shipment already has a label")
	ErrDuplicateReference     = errors.New("reference number already exists")
	ErrConcurrentModification = errors.New("shipment was modified concurrently")
)

// BlobError is a failure reported by the blob backend itself, as opposed to a
// transport or client-side failure.
type BlobError struct {
	Operation  string
	BlobName   string
	StatusCode int
	ErrorCode  string
	Err        error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob %s of %q failed (status %d, code %s): %v", e.Operation, e.BlobName, e.StatusCode, e.ErrorCode, e.Err)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// AsBlobError extracts a BlobError from err's chain.
func AsBlobError(err error) (*BlobError, bool) {
	var blobErr *BlobError
	if errors.As(err, &blobErr) {
		return blobErr, true
	}
	return nil, false
}
