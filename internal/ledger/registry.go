package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DriverProfile is self declared; nothing here is verified off-ledger.
type DriverProfile struct {
	Name         string `json:"name"`
	Age          uint32 `json:"age"`
	Gender       string `json:"gender"`
	VehicleName  string `json:"vehicleName"`
	VehicleType  string `json:"vehicleType"`
	IsRegistered bool   `json:"isRegistered"`
}

// RegisterDriver records a profile for caller. An identity registers once;
// a second attempt fails with ErrAlreadyRegistered and leaves the first
// profile in place.
func (l *Ledger) RegisterDriver(ctx context.Context, caller common.Address, p DriverProfile) (err error) {
	defer l.observe("register_driver", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	p.Name = strings.TrimSpace(p.Name)
	p.Gender = strings.TrimSpace(p.Gender)
	p.VehicleName = strings.TrimSpace(p.VehicleName)
	p.VehicleType = strings.TrimSpace(p.VehicleType)
	if err := l.validateProfile(p); err != nil {
		return err
	}

	l.mu.Lock()
	if l.drivers[caller].IsRegistered {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, caller.Hex())
	}
	p.IsRegistered = true
	l.drivers[caller] = p
	l.mu.Unlock()

	l.emit(ctx, Event{Kind: EventDriverRegistered, Driver: caller, Profile: &p})
	l.logger.Info("driver_registered", "driver", caller.Hex(), "vehicle_type", p.VehicleType)
	return nil
}

func (l *Ledger) validateProfile(p DriverProfile) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	case p.VehicleName == "":
		return fmt.Errorf("%w: vehicle name is required", ErrInvalidProfile)
	case p.Age < l.minDriverAge:
		return fmt.Errorf("%w: age %d is below %d", ErrInvalidProfile, p.Age, l.minDriverAge)
	}
	return nil
}

// Driver returns the profile stored for addr. Unknown identities get the
// zero profile, which is not registered.
func (l *Ledger) Driver(addr common.Address) DriverProfile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.drivers[addr]
}

func (l *Ledger) IsRegistered(addr common.Address) bool {
	return l.Driver(addr).IsRegistered
}
