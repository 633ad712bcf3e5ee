package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const MaxFeePercent = 100

// SetPlatformFee changes the fee taken on completion. Rides already in
// flight settle with whatever percentage is current when they complete.
func (l *Ledger) SetPlatformFee(ctx context.Context, caller common.Address, percent uint64) (err error) {
	defer l.observe("set_platform_fee", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if percent > MaxFeePercent {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidFee, percent, MaxFeePercent)
	}
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	old := l.feePercent
	l.feePercent = percent
	owner := l.owner
	l.mu.Unlock()

	l.emit(ctx, Event{Kind: EventPlatformFeeUpdated, FeePercent: percent, Owner: owner})
	l.logger.Info("platform_fee_updated", "old_percent", old, "new_percent", percent)
	return nil
}

// TransferOwnership hands the administrative identity to next.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, next common.Address) (err error) {
	defer l.observe("transfer_ownership", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if next == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidOwner)
	}
	l.mu.Lock()
	if caller != l.owner {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	prev := l.owner
	l.owner = next
	l.mu.Unlock()

	l.emit(ctx, Event{Kind: EventOwnershipTransferred, Owner: next})
	l.logger.Info("ownership_transferred", "previous", prev.Hex(), "owner", next.Hex())
	return nil
}

func (l *Ledger) Owner() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

func (l *Ledger) PlatformFeePercent() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.feePercent
}
