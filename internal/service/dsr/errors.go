package dsr

import "errors"

// Sentinel errors for the DSR service layer.
var (
	ErrIdentifierRequired  = errors.New("identifier is required")
	ErrMailingListRequired = errors.New("mailing list is required")
	ErrProbeFailed         = errors.New("membership probe failed")
)
