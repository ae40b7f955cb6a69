package domain

import "errors"

var (
	ErrUnknownSource   = errors.New("unknown source")
	ErrDuplicateSource = errors.New("duplicate source id")
	ErrDecode          = errors.New("undecodable message")
	ErrFeedClosed      = errors.New("feed closed")
	ErrHubStopped      = errors.New("hub stopped")
	ErrTooManyClients  = errors.New("too many clients")
)
