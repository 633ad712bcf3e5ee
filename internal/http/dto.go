package httpapi

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/example/ride-escrow/internal/board"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/units"
)

type createRideRequest struct {
	PickupAddress  string   `json:"pickupAddress"`
	DropoffAddress string   `json:"dropoffAddress"`
	PickupLat      *float64 `json:"pickupLat"`
	PickupLng      *float64 `json:"pickupLng"`
	DropoffLat     *float64 `json:"dropoffLat"`
	DropoffLng     *float64 `json:"dropoffLng"`
	Value          string   `json:"value"`
	ValueCoin      string   `json:"valueCoin"`
}

type registerDriverRequest struct {
	Name        string `json:"name"`
	Age         uint32 `json:"age"`
	Gender      string `json:"gender"`
	VehicleName string `json:"vehicleName"`
	VehicleType string `json:"vehicleType"`
}

type setFeeRequest struct {
	Percent *uint64 `json:"percent"`
}

type transferOwnershipRequest struct {
	Owner string `json:"owner"`
}

type placeResponse struct {
	Address string  `json:"address"`
	Lat     int64   `json:"lat"`
	Lng     int64   `json:"lng"`
	LatDeg  float64 `json:"latDeg"`
	LngDeg  float64 `json:"lngDeg"`
}

type rideResponse struct {
	ID         uint64        `json:"id"`
	Rider      string        `json:"rider"`
	Driver     string        `json:"driver,omitempty"`
	Fare       string        `json:"fare"`
	FareCoin   string        `json:"fareCoin"`
	Status     string        `json:"status"`
	StatusCode uint8         `json:"statusCode"`
	Pickup     placeResponse `json:"pickup"`
	Dropoff    placeResponse `json:"dropoff"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type openRideResponse struct {
	rideResponse
	DistanceMeters float64 `json:"distanceMeters"`
	Cell           string  `json:"cell"`
}

type driverResponse struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Age          uint32 `json:"age"`
	Gender       string `json:"gender"`
	VehicleName  string `json:"vehicleName"`
	VehicleType  string `json:"vehicleType"`
	IsRegistered bool   `json:"isRegistered"`
}

type statsResponse struct {
	RideCount          uint64 `json:"rideCount"`
	PlatformFeePercent uint64 `json:"platformFeePercent"`
	Owner              string `json:"owner"`
	Address            string `json:"address"`
	Escrowed           string `json:"escrowed"`
	EscrowedCoin       string `json:"escrowedCoin"`
}

type balanceResponse struct {
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	BalanceCoin string `json:"balanceCoin"`
}

type eventsResponse struct {
	Events []ledger.Event `json:"events"`
	Last   uint64         `json:"last"`
}

func toPlace(p ledger.Place) placeResponse {
	return placeResponse{
		Address: p.Address,
		Lat:     p.Lat,
		Lng:     p.Lng,
		LatDeg:  units.DecodeCoord(p.Lat),
		LngDeg:  units.DecodeCoord(p.Lng),
	}
}

func toRide(r ledger.Ride) rideResponse {
	out := rideResponse{
		ID:         r.ID,
		Rider:      r.Rider.Hex(),
		Fare:       amount(r.Fare),
		FareCoin:   units.FormatCoin(orZero(r.Fare)),
		Status:     r.Status.String(),
		StatusCode: uint8(r.Status),
		Pickup:     toPlace(r.Pickup),
		Dropoff:    toPlace(r.Dropoff),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.HasDriver() {
		out.Driver = r.Driver.Hex()
	}
	return out
}

func toRides(rs []ledger.Ride) []rideResponse {
	out := make([]rideResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRide(r))
	}
	return out
}

func toOpenRides(ls []board.Listing) []openRideResponse {
	out := make([]openRideResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, openRideResponse{rideResponse: toRide(l.Ride), DistanceMeters: l.Distance, Cell: l.Cell})
	}
	return out
}

func toDriver(addr common.Address, p ledger.DriverProfile) driverResponse {
	return driverResponse{
		Address:      addr.Hex(),
		Name:         p.Name,
		Age:          p.Age,
		Gender:       p.Gender,
		VehicleName:  p.VehicleName,
		VehicleType:  p.VehicleType,
		IsRegistered: p.IsRegistered,
	}
}

func amount(v *uint256.Int) string { return orZero(v).Dec() }

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
