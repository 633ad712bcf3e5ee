package ledger

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestSplitConservesFare(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	fares := []*uint256.Int{
		uint256.NewInt(1),
		uint256.NewInt(49),
		uint256.NewInt(50),
		uint256.NewInt(99),
		uint256.NewInt(100),
		uint256.MustFromDecimal("1000000000000000000"),
		max,
		new(uint256.Int).Sub(max, uint256.NewInt(1)),
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		fares = append(fares, &uint256.Int{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()})
	}

	for _, pct := range []uint64{0, 1, 2, 33, 99, 100} {
		for _, fare := range fares {
			payment, fee := Split(fare, pct)
			sum, overflow := new(uint256.Int).AddOverflow(payment, fee)
			assert.False(t, overflow)
			assert.True(t, sum.Eq(fare), "fare=%s pct=%d", fare.Dec(), pct)
			assert.False(t, fee.Gt(fare))
		}
	}
}

func TestSplitFloorsFeeTowardDriver(t *testing.T) {
	payment, fee := Split(uint256.NewInt(49), 2)
	assert.Equal(t, uint64(0), fee.Uint64())
	assert.Equal(t, uint64(49), payment.Uint64())

	payment, fee = Split(uint256.NewInt(151), 2)
	assert.Equal(t, uint64(3), fee.Uint64())
	assert.Equal(t, uint64(148), payment.Uint64())

	payment, fee = Split(uint256.MustFromDecimal("1000000000000000000"), 2)
	assert.Equal(t, "20000000000000000", fee.Dec())
	assert.Equal(t, "980000000000000000", payment.Dec())
}

func TestSplitOfMaxFareDoesNotOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	payment, fee := Split(max, 100)
	assert.True(t, fee.Eq(max))
	assert.True(t, payment.IsZero())
}

func TestGuardRefusesOverlap(t *testing.T) {
	var g Guard
	release, err := g.Enter()
	assert.NoError(t, err)
	assert.True(t, g.Held())

	_, err = g.Enter()
	assert.ErrorIs(t, err, ErrReentrant)

	release()
	assert.False(t, g.Held())
	release2, err := g.Enter()
	assert.NoError(t, err)
	release2()
}

func TestStatusText(t *testing.T) {
	for s := StatusRequested; s <= StatusCancelled; s++ {
		b, err := s.MarshalText()
		assert.NoError(t, err)
		var back Status
		assert.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	st, err := ParseStatus("accepted")
	assert.NoError(t, err)
	assert.Equal(t, StatusAccepted, st)
	_, err = ParseStatus("disputed")
	assert.Error(t, err)
	assert.Equal(t, "Status(9)", Status(9).String())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusAccepted.Terminal())
}
