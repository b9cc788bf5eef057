package relay

import (
	"errors"
	"fmt"

	"github.com/caldog20/tunrelay/pkg/frame"
)

var (
	// Setup errors
	ErrInterface = errors.New("failed to open tunnel interface")
	ErrListen    = errors.New("failed to listen for peer")
	ErrAccept    = errors.New("failed to accept peer")
	ErrDial      = errors.New("failed to connect to peer")

	// Session errors
	ErrInterfaceIO = errors.New("tunnel interface i/o failed")
	ErrTransportIO = errors.New("transport i/o failed")
	ErrProtocol    = errors.New("protocol error")
	ErrIdleTimeout = errors.New("session idle timeout")
	ErrSessionUsed = errors.New("session already started or closed")
)

func Wrap(step error, err error) error {
	return fmt.Errorf("%w: %w", step, err)
}

// IsSetupError reports whether err happened before a session was running.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrInterface) ||
		errors.Is(err, ErrListen) ||
		errors.Is(err, ErrAccept) ||
		errors.Is(err, ErrDial)
}

// IsDisconnect reports whether err is an orderly peer disconnect.
func IsDisconnect(err error) bool {
	return errors.Is(err, frame.ErrShortRead)
}
