package cvdispatchevents

import "github.com/pborman/uuid"

// NewMessageID returns a fresh identifier to stamp into an event message.
func NewMessageID() string {
	return uuid.New()
}
