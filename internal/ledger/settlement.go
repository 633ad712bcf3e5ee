package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/example/ride-escrow/internal/observability"
)

var hundred = uint256.NewInt(100)

// Split divides fare into the driver's payment and the protocol fee.
// fee = floor(fare*percent/100) with a 512 bit intermediate, so any
// fractional unit stays with the driver and the two parts always sum to
// fare. percent must not exceed 100.
func Split(fare *uint256.Int, percent uint64) (driverPayment, fee *uint256.Int) {
	fee, _ = new(uint256.Int).MulDivOverflow(fare, uint256.NewInt(percent), hundred)
	driverPayment = new(uint256.Int).Sub(fare, fee)
	return driverPayment, fee
}

type payout struct {
	leg    string
	to     common.Address
	amount *uint256.Int
}

// completionPayouts pays the driver first and the fee second.
func completionPayouts(fare *uint256.Int, percent uint64, driver, treasury common.Address) []payout {
	payment, fee := Split(fare, percent)
	return []payout{
		{leg: "driver", to: driver, amount: payment},
		{leg: "fee", to: treasury, amount: fee},
	}
}

func refundPayout(fare *uint256.Int, rider common.Address) []payout {
	return []payout{{leg: "refund", to: rider, amount: fare}}
}

// settle moves every payout out of the ledger account inside one vault
// checkpoint. If any leg fails the checkpoint is rolled back, including
// anything recipients did with value they had already been sent.
func (l *Ledger) settle(ctx context.Context, payouts []payout) error {
	cp := l.custody.Checkpoint()
	for _, p := range payouts {
		if p.amount.IsZero() {
			continue
		}
		if err := l.custody.Transfer(ctx, l.self, p.to, p.amount); err != nil {
			l.custody.Rollback(cp)
			return fmt.Errorf("%w: %s payment to %s: %w", ErrTransferFailed, p.leg, p.to.Hex(), err)
		}
	}
	l.custody.Commit(cp)
	for _, p := range payouts {
		observability.ObserveSettlement(p.leg, p.amount)
	}
	return nil
}
