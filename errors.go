package movecam

import "errors"

var (
	errNoServerAddress = errors.New("no inference server address configured")
	errNotSupported    = errors.New("not supported on this platform")
)
