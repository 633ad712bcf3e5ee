package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/storage"
	"github.com/example/ride-escrow/internal/units"
)

// callerHeader carries the identity of whoever signs the call. Signature
// checks happen in the wallet gateway in front of this service.
const callerHeader = "X-Caller-Address"

const (
	maxBodyBytes     = 1 << 20
	defaultPageSize  = 50
	maxPageSize      = 500
	defaultEventPage = 100
	maxEventPage     = 1000
)

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createRideRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := req.value()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trip, err := req.trip()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var id uint64
	err = s.mutate(r, func(ctx context.Context) error {
		var err error
		id, err = s.ledger.RequestRide(ctx, caller, value, trip)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.ledger.Ride(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "ride": toRide(ride)})
}

func (req createRideRequest) value() (*uint256.Int, error) {
	switch {
	case req.Value != "" && req.ValueCoin != "":
		return nil, badRequest("give either value or valueCoin, not both")
	case req.Value != "":
		v, err := units.ParseWei(req.Value)
		if err != nil {
			return nil, badRequest("value: %v", err)
		}
		return v, nil
	case req.ValueCoin != "":
		v, err := units.ParseCoin(req.ValueCoin)
		if err != nil {
			return nil, badRequest("valueCoin: %v", err)
		}
		return v, nil
	}
	return nil, badRequest("value or valueCoin is required")
}

func (req createRideRequest) trip() (ledger.Trip, error) {
	pickup, err := place(req.PickupAddress, req.PickupLat, req.PickupLng, "pickup")
	if err != nil {
		return ledger.Trip{}, err
	}
	dropoff, err := place(req.DropoffAddress, req.DropoffLat, req.DropoffLng, "dropoff")
	if err != nil {
		return ledger.Trip{}, err
	}
	return ledger.Trip{Pickup: pickup, Dropoff: dropoff}, nil
}

func place(addr string, lat, lng *float64, name string) (ledger.Place, error) {
	if lat == nil || lng == nil {
		return ledger.Place{}, badRequest("%sLat and %sLng are required", name, name)
	}
	p := ledger.Place{
		Address: strings.TrimSpace(addr),
		Lat:     units.EncodeCoord(*lat),
		Lng:     units.EncodeCoord(*lng),
	}
	if !units.ValidLat(p.Lat) || !units.ValidLng(p.Lng) {
		return ledger.Place{}, badRequest("%s coordinates out of range", name)
	}
	return p, nil
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.ledger.AcceptRide)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.ledger.CompleteRide)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.ledger.CancelRide)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, uint64) error) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := rideID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mutate(r, func(ctx context.Context) error { return op(ctx, caller, id) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.ledger.Ride(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRide(ride))
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, err := rideID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.ledger.Ride(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRide(ride))
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f storage.RideFilter
	if v := q.Get("status"); v != "" {
		st, err := ledger.ParseStatus(v)
		if err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		f.Status = &st
	}
	for _, p := range []struct {
		key    string
		target **common.Address
	}{{"rider", &f.Rider}, {"driver", &f.Driver}} {
		if v := q.Get(p.key); v != "" {
			addr, err := parseAddress(v)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			*p.target = &addr
		}
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), defaultPageSize, maxPageSize); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0, -1); err != nil {
		s.writeError(w, r, err)
		return
	}

	rides, err := s.store.ListRides(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": toRides(rides)})
}

func (s *Server) handleOpenRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		s.writeError(w, r, badRequest("lat and lng are required"))
		return
	}
	limit, err := intParam(q.Get("limit"), 0, maxPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listings, err := s.board.Open(r.Context(), lat, lng, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": toOpenRides(listings)})
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req registerDriverRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := ledger.DriverProfile{
		Name:        req.Name,
		Age:         req.Age,
		Gender:      req.Gender,
		VehicleName: req.VehicleName,
		VehicleType: req.VehicleType,
	}
	if err := s.mutate(r, func(ctx context.Context) error { return s.ledger.RegisterDriver(ctx, caller, p) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDriver(caller, s.ledger.Driver(caller)))
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := s.ledger.Driver(addr)
	if !p.IsRegistered {
		s.writeError(w, r, fmt.Errorf("%w: driver %s", storage.ErrNotFound, addr.Hex()))
		return
	}
	writeJSON(w, http.StatusOK, toDriver(addr, p))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal := s.balances.Balance(addr)
	writeJSON(w, http.StatusOK, balanceResponse{Address: addr.Hex(), Balance: bal.Dec(), BalanceCoin: units.FormatCoin(bal)})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setFeeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Percent == nil {
		s.writeError(w, r, badRequest("percent is required"))
		return
	}
	if err := s.mutate(r, func(ctx context.Context) error { return s.ledger.SetPlatformFee(ctx, caller, *req.Percent) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transferOwnershipRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := parseAddress(req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mutate(r, func(ctx context.Context) error { return s.ledger.TransferOwnership(ctx, caller, next) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) stats() statsResponse {
	escrowed := s.ledger.Escrowed()
	return statsResponse{
		RideCount:          s.ledger.RideCount(),
		PlatformFeePercent: s.ledger.PlatformFeePercent(),
		Owner:              s.ledger.Owner().Hex(),
		Address:            s.ledger.Address().Hex(),
		Escrowed:           escrowed.Dec(),
		EscrowedCoin:       units.FormatCoin(escrowed),
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		var err error
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, badRequest("after: %v", err))
			return
		}
	}
	limit, err := intParam(q.Get("limit"), defaultEventPage, maxEventPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evs := s.events.After(after, limit)
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs, Last: s.events.Last()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var filter common.Address
	if v := mux.Vars(r)["address"]; !strings.EqualFold(v, "all") {
		addr, err := parseAddress(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter = addr
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Serve(conn, filter)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func callerFrom(r *http.Request) (common.Address, error) {
	v := strings.TrimSpace(r.Header.Get(callerHeader))
	if v == "" {
		return common.Address{}, badRequest("%s header is required", callerHeader)
	}
	addr, err := parseAddress(v)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, badRequest("%s must not be the zero address", callerHeader)
	}
	return addr, nil
}

func parseAddress(v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, badRequest("%q is not an address", v)
	}
	return common.HexToAddress(v), nil
}

func rideID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, badRequest("ride id: %v", err)
	}
	return id, nil
}

// intParam parses an optional non-negative integer, capped at ceiling when it
// is positive.
func intParam(v string, def, ceiling int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("%q is not a valid count", v)
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
