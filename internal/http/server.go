package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-escrow/internal/board"
	"github.com/example/ride-escrow/internal/dispatch"
	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/sequencer"
	"github.com/example/ride-escrow/internal/storage"
)

// Ledger is the part of *ledger.Ledger the API drives.
type Ledger interface {
	RequestRide(ctx context.Context, rider common.Address, value *uint256.Int, trip ledger.Trip) (uint64, error)
	AcceptRide(ctx context.Context, driver common.Address, id uint64) error
	CompleteRide(ctx context.Context, rider common.Address, id uint64) error
	CancelRide(ctx context.Context, rider common.Address, id uint64) error
	RegisterDriver(ctx context.Context, caller common.Address, p ledger.DriverProfile) error
	SetPlatformFee(ctx context.Context, caller common.Address, percent uint64) error
	TransferOwnership(ctx context.Context, caller, next common.Address) error

	Ride(id uint64) (ledger.Ride, error)
	RideCount() uint64
	Driver(addr common.Address) ledger.DriverProfile
	IsRegistered(addr common.Address) bool
	PlatformFeePercent() uint64
	Owner() common.Address
	Address() common.Address
	Escrowed() *uint256.Int
}

type Balances interface {
	Balance(addr common.Address) *uint256.Int
}

type Board interface {
	Open(ctx context.Context, lat, lng float64, limit int) ([]board.Listing, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Options struct {
	Ledger    Ledger
	Balances  Balances
	Sequencer *sequencer.Sequencer
	Board     Board
	Store     storage.RideStore
	Events    *events.Log
	Hub       *dispatch.Hub
	Logger    *slog.Logger

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
	Ready          map[string]ReadyCheck
}

type Server struct {
	ledger   Ledger
	balances Balances
	seq      *sequencer.Sequencer
	board    Board
	store    storage.RideStore
	events   *events.Log
	hub      *dispatch.Hub
	logger   *slog.Logger
	limiter  *callerLimiter
	ready    map[string]ReadyCheck
	upgrader websocket.Upgrader

	mux     *mux.Router
	handler http.Handler
}

func NewServer(o Options) *Server {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sequencer == nil {
		o.Sequencer = sequencer.New()
	}
	s := &Server{
		ledger:   o.Ledger,
		balances: o.Balances,
		seq:      o.Sequencer,
		board:    o.Board,
		store:    o.Store,
		events:   o.Events,
		hub:      o.Hub,
		logger:   o.Logger.With("component", "http"),
		limiter:  newCallerLimiter(o.RateLimitRPS, o.RateLimitBurst, 10*time.Minute),
		ready:    o.Ready,
		mux:      mux.NewRouter(),
	}
	if len(o.CORSOrigins) > 0 {
		s.upgrader.CheckOrigin = originChecker(o.CORSOrigins)
	}
	s.registerMiddleware()
	s.routes()

	s.handler = s.mux
	if len(o.CORSOrigins) > 0 {
		s.handler = handlers.CORS(
			handlers.AllowedOrigins(o.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", callerHeader, requestIDHeader}),
			handlers.ExposedHeaders([]string{requestIDHeader}),
		)(s.mux)
	}
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/rides", s.handleRequestRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/open", s.handleOpenRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id:[0-9]+}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id:[0-9]+}/accept", s.handleAcceptRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id:[0-9]+}/complete", s.handleCompleteRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id:[0-9]+}/cancel", s.handleCancelRide).Methods(http.MethodPost)

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{address}", s.handleGetDriver).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/balance", s.handleBalance).Methods(http.MethodGet)

	api.HandleFunc("/admin/fee", s.handleSetFee).Methods(http.MethodPut)
	api.HandleFunc("/admin/owner", s.handleTransferOwnership).Methods(http.MethodPut)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/{address}", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

// mutate runs fn as the next call in the ledger's total order.
func (s *Server) mutate(r *http.Request, fn func(ctx context.Context) error) error {
	return s.seq.Do(r.Context(), fn)
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}
