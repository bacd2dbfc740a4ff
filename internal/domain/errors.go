package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
	ErrNotConnected       = errors.New("websocket not connected")
	ErrConnectionClosed   = errors.New("websocket connection closed")
	ErrTimeout            = errors.New("request timed out")
	ErrCancelled          = errors.New("operation cancelled")
	ErrAuthFailed         = errors.New("authorization failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrSettlementTimeout  = errors.New("contract settlement timed out")
	ErrContractOpen       = errors.New("a contract is already open")
	ErrSessionRunning     = errors.New("session already running")
	ErrSessionStopped     = errors.New("session not running")
)

// BrokerError is an error payload returned by the broker for a request, such
// as an invalid proposal or insufficient balance.
type BrokerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BrokerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBrokerError reports whether err wraps a *BrokerError.
func IsBrokerError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be)
}
