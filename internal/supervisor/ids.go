package supervisor

import (
	"errors"

	"github.com/google/uuid"
)

var (
	errSocketGone    = errors.New("socket is not connected")
	errOutboundFull  = errors.New("outbound queue is full")
)

func newSocketID() string {
	return uuid.NewString()
}
