package master

import "fmt"

// UnknownWorkerError is returned by operations addressed to a client ID the
// master has no registration for. The provider maps it to a 404.
type UnknownWorkerError struct {
	ClientID string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("no worker registered with client id %v", e.ClientID)
}

// BadPayloadError is returned when a request body cannot be decoded. The
// provider maps it to a 400.
type BadPayloadError struct {
	Err error
}

func (e *BadPayloadError) Error() string {
	return fmt.Sprintf("request body does not decode: %v", e.Err)
}

func (e *BadPayloadError) Unwrap() error {
	return e.Err
}
