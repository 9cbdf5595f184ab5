package media

import "fmt"

// MediaAccessError reports a capture device that is missing, unreadable or
// not in a supported format. It is fatal to call setup.
type MediaAccessError struct {
	Device string // label of the device that failed
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access denied for %s: %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}
