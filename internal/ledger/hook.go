package ledger

import (
	"context"
	"errors"
	"fmt"

	"clearline/internal/domain"
)

// ErrInvalidHookReturn is returned when a fill hook does not answer
// with the acknowledgement marker.
var ErrInvalidHookReturn = errors.New("ledger: invalid hook return")

// HookAck is the marker a fill hook must return for the order to
// settle.
var HookAck = [4]byte{0xc1, 0xea, 0x4f, 0x11}

// FillHook runs after an order's output has been delivered and before
// its input is collected, so a hook can fund the input from the
// proceeds. It may move balances through the ledger; everything it
// stages is discarded with the bundle if settlement later fails.
type FillHook interface {
	PostFill(ctx context.Context, l *Ledger, recipient domain.Address, payload []byte) ([4]byte, error)
}

// DispatchHook invokes the hook for an order carrying a hook payload
// and verifies the acknowledgement marker. A payload with no hook
// installed fails the order.
func DispatchHook(ctx context.Context, l *Ledger, hook FillHook, recipient domain.Address, payload []byte) error {
	if hook == nil {
		return fmt.Errorf("%w: no hook installed", ErrInvalidHookReturn)
	}
	ack, err := hook.PostFill(ctx, l, recipient, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHookReturn, err)
	}
	if ack != HookAck {
		return fmt.Errorf("%w: got marker %x", ErrInvalidHookReturn, ack)
	}
	return nil
}
