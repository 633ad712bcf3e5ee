package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is the ride lifecycle position. The numeric values match the
// encoding dashboards already read (0 Requested .. 3 Cancelled).
type Status uint8

const (
	StatusRequested Status = iota
	StatusAccepted
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{"Requested", "Accepted", "Completed", "Cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStatus accepts a status name in any case.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown ride status %q", v)
}

// Place is a human readable location plus fixed point coordinates
// (degrees scaled by 1e6).
type Place struct {
	Address string `json:"address"`
	Lat     int64  `json:"lat"`
	Lng     int64  `json:"lng"`
}

// Trip is the rider supplied part of a ride request.
type Trip struct {
	Pickup  Place `json:"pickup"`
	Dropoff Place `json:"dropoff"`
}

type Ride struct {
	ID        uint64         `json:"id"`
	Rider     common.Address `json:"rider"`
	Driver    common.Address `json:"driver"`
	Fare      *uint256.Int   `json:"fare"`
	Status    Status         `json:"status"`
	Pickup    Place          `json:"pickup"`
	Dropoff   Place          `json:"dropoff"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// HasDriver reports whether the ride has been claimed.
func (r Ride) HasDriver() bool { return r.Driver != (common.Address{}) }

// clone detaches the fare so callers never share the ledger's copy.
func (r Ride) clone() Ride {
	if r.Fare != nil {
		r.Fare = r.Fare.Clone()
	}
	return r
}
