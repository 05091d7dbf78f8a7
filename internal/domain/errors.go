package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrDuplicate         = errors.New("duplicate")
	ErrLockHeld          = errors.New("lock already held")
	ErrWalletUnavailable = errors.New("wallet unavailable")
	ErrNotConnected      = errors.New("wallet not connected")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrWrongNetwork      = errors.New("wrong network")
	ErrUnknownChain      = errors.New("unknown chain")
	ErrInvalidMarketID   = errors.New("invalid market id")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrInvalidImage      = errors.New("unsupported image")
)
