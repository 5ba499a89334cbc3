package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Marketplace error kinds. Handlers wrap these with %w so callers can
// distinguish recoverable conditions (ErrOutOfStock, ErrInvalidBuyBack)
// from authorization and accounting failures via errors.Is.
var (
	ErrNotPublisher        = errors.New("caller is not the game's publisher")
	ErrNotAdmin            = errors.New("caller is not the marketplace admin")
	ErrNotWhitelisted      = errors.New("game is not whitelisted")
	ErrUnknownTemplate     = errors.New("unknown template")
	ErrTemplateNotApproved = errors.New("game is not approved for template")
	ErrInvalidBuyBack      = errors.New("buy-back price must be below price")
	ErrOutOfStock          = errors.New("out of stock")
	ErrBurnDenied          = errors.New("burn denied")
	ErrReserveUnderflow    = errors.New("buy-back reserve underflow")
	ErrTransferFailed      = errors.New("token transfer failed")
	ErrReentrant           = errors.New("reentrant marketplace call")
)
