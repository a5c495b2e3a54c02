package common

import "errors"

var (
	// Token vault errors.
	ErrMalformedToken = errors.New("malformed token pair")

	// Session lifecycle errors.
	ErrRefreshFailed     = errors.New("refresh failed")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrStaleCompletion   = errors.New("stale completion discarded")

	// Optimistic project mutation errors.
	ErrCreateFailed = errors.New("create failed")
	ErrDeleteFailed = errors.New("delete failed")
	ErrUpdateFailed = errors.New("update failed")
	ErrConflict     = errors.New("mutation already in flight")
	ErrInvalidName  = errors.New("invalid name")

	// Document errors.
	ErrMalformedDoc = errors.New("malformed document")
)
