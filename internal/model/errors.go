package model

import "errors"

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrSelfPurchase       = errors.New("self purchase denied")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPartialFailure     = errors.New("partial failure")
	ErrStore              = errors.New("store error")
	ErrConflict           = errors.New("concurrent update conflict")
)
