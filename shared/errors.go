package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoMinter              = errors.New("no secret minter provided")
	ErrNoCredential          = errors.New("no credential provided")
	ErrNoAudioTrack          = errors.New("no audio track provided")
	ErrNoAudioDevice         = errors.New("no audio input device available")
	ErrNoNotifier            = errors.New("no notifier provided")
	ErrNoToolRegistry        = errors.New("no tool registry provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionNotRunning     = errors.New("session not running")
	ErrChannelNotOpen        = errors.New("control channel not open")
	ErrTransportClosed       = errors.New("transport closed")
	ErrUnknownTool           = errors.New("unknown tool")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrHandlerAlreadySet     = errors.New("handler already set")
)

// StatusError is returned when a remote HTTP endpoint answers with a
// non-success status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d, body: %s", e.Op, e.StatusCode, e.Body)
}

func AsError[T error](err error) (T, bool) {
	var target T
	return target, errors.As(err, &target)
}
