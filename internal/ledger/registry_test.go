package ledger_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/ledger"
)

func TestRegisterDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.l.IsRegistered(driver))
	assert.Equal(t, ledger.DriverProfile{}, f.l.Driver(driver))

	require.NoError(t, f.l.RegisterDriver(ctx, driver, ledger.DriverProfile{
		Name: "  Ravi ", Age: 41, Gender: "male", VehicleName: "Innova", VehicleType: "suv",
		IsRegistered: false,
	}))
	p := f.l.Driver(driver)
	assert.True(t, p.IsRegistered)
	assert.Equal(t, "Ravi", p.Name)
	assert.Equal(t, uint32(41), p.Age)
	assert.True(t, f.l.IsRegistered(driver))

	ev := f.rec.last()
	assert.Equal(t, ledger.EventDriverRegistered, ev.Kind)
	assert.Equal(t, driver, ev.Driver)
	require.NotNil(t, ev.Profile)
	assert.Equal(t, "Innova", ev.Profile.VehicleName)
}

func TestRegisterDriverTwiceKeepsFirstProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)

	err := f.l.RegisterDriver(ctx, driver, ledger.DriverProfile{Name: "Other", Age: 30, VehicleName: "Swift"})
	assert.ErrorIs(t, err, ledger.ErrAlreadyRegistered)
	assert.Equal(t, "Asha", f.l.Driver(driver).Name)
}

func TestRegisterDriverValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []ledger.DriverProfile{
		{Name: "", Age: 30, VehicleName: "Swift"},
		{Name: "   ", Age: 30, VehicleName: "Swift"},
		{Name: "Kid", Age: 17, VehicleName: "Swift"},
		{Name: "Nobody", Age: 30, VehicleName: ""},
	}
	for i, p := range cases {
		who := common.BigToAddress(big.NewInt(int64(0x100 + i)))
		err := f.l.RegisterDriver(ctx, who, p)
		assert.ErrorIs(t, err, ledger.ErrInvalidProfile, "case %d", i)
		assert.False(t, f.l.IsRegistered(who))
	}
}

func TestPlatformFeeAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, uint64(2), f.l.PlatformFeePercent())

	assert.ErrorIs(t, f.l.SetPlatformFee(ctx, rider, 5), ledger.ErrUnauthorized)
	assert.ErrorIs(t, f.l.SetPlatformFee(ctx, owner, 101), ledger.ErrInvalidFee)
	require.NoError(t, f.l.SetPlatformFee(ctx, owner, 5))
	assert.Equal(t, uint64(5), f.l.PlatformFeePercent())
	assert.Equal(t, ledger.EventPlatformFeeUpdated, f.rec.last().Kind)

	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))
	require.NoError(t, f.l.CompleteRide(ctx, rider, id))
	assert.Equal(t, "50000000000000000", f.book.Balance(owner).Dec())
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	next := common.HexToAddress("0x00000000000000000000000000000000000000f2")

	assert.ErrorIs(t, f.l.TransferOwnership(ctx, rider, next), ledger.ErrUnauthorized)
	assert.ErrorIs(t, f.l.TransferOwnership(ctx, owner, common.Address{}), ledger.ErrInvalidOwner)
	require.NoError(t, f.l.TransferOwnership(ctx, owner, next))
	assert.Equal(t, next, f.l.Owner())

	assert.ErrorIs(t, f.l.SetPlatformFee(ctx, owner, 3), ledger.ErrUnauthorized)
	require.NoError(t, f.l.SetPlatformFee(ctx, next, 3))
	ev := f.rec.last()
	assert.Equal(t, ledger.EventPlatformFeeUpdated, ev.Kind)
	assert.Equal(t, next, ev.Owner)
}
