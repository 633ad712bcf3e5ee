package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"

	"github.com/example/ride-escrow/internal/ledger"
)

type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Reset empties the read model. Ride ids and event sequence numbers restart
// with every ledger, so rows left by a previous one would shadow new rides.
func (p *PostgresStore) Reset(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `TRUNCATE rides, drivers`); err != nil {
		return fmt.Errorf("reset read model: %w", err)
	}
	return nil
}

const upsertRide = `INSERT INTO rides (id, rider, driver, fare, status, pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng, created_at, updated_at, last_seq)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET rider = EXCLUDED.rider, driver = EXCLUDED.driver, fare = EXCLUDED.fare,
	status = EXCLUDED.status, pickup_address = EXCLUDED.pickup_address, pickup_lat = EXCLUDED.pickup_lat,
	pickup_lng = EXCLUDED.pickup_lng, dropoff_address = EXCLUDED.dropoff_address,
	dropoff_lat = EXCLUDED.dropoff_lat, dropoff_lng = EXCLUDED.dropoff_lng,
	created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at, last_seq = EXCLUDED.last_seq
WHERE rides.last_seq < EXCLUDED.last_seq`

func (p *PostgresStore) SaveRide(ctx context.Context, seq uint64, r ledger.Ride) error {
	_, err := p.db.ExecContext(ctx, upsertRide,
		int64(r.ID), r.Rider.Hex(), nullAddress(r.Driver), r.Fare.Dec(), int16(r.Status),
		r.Pickup.Address, r.Pickup.Lat, r.Pickup.Lng,
		r.Dropoff.Address, r.Dropoff.Lat, r.Dropoff.Lng,
		r.CreatedAt, r.UpdatedAt, int64(seq))
	return err
}

const upsertDriver = `INSERT INTO drivers (address, name, age, gender, vehicle_name, vehicle_type, registered, last_seq)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (address) DO UPDATE SET name = EXCLUDED.name, age = EXCLUDED.age, gender = EXCLUDED.gender,
	vehicle_name = EXCLUDED.vehicle_name, vehicle_type = EXCLUDED.vehicle_type,
	registered = EXCLUDED.registered, last_seq = EXCLUDED.last_seq
WHERE drivers.last_seq < EXCLUDED.last_seq`

func (p *PostgresStore) SaveDriver(ctx context.Context, seq uint64, addr common.Address, d ledger.DriverProfile) error {
	_, err := p.db.ExecContext(ctx, upsertDriver,
		addr.Hex(), d.Name, int64(d.Age), d.Gender, d.VehicleName, d.VehicleType, d.IsRegistered, int64(seq))
	return err
}

const selectRide = `SELECT id, rider, driver, fare, status, pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng, created_at, updated_at FROM rides`

func (p *PostgresStore) GetRide(ctx context.Context, id uint64) (ledger.Ride, error) {
	row := p.db.QueryRowContext(ctx, selectRide+` WHERE id = $1`, int64(id))
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Ride{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) GetDriver(ctx context.Context, addr common.Address) (ledger.DriverProfile, error) {
	var (
		d   ledger.DriverProfile
		age int64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT name, age, gender, vehicle_name, vehicle_type, registered FROM drivers WHERE address = $1`,
		addr.Hex()).Scan(&d.Name, &age, &d.Gender, &d.VehicleName, &d.VehicleType, &d.IsRegistered)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.DriverProfile{}, ErrNotFound
	}
	if err != nil {
		return ledger.DriverProfile{}, err
	}
	d.Age = uint32(age)
	return d, nil
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]ledger.Ride, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("status = $%d", int16(*f.Status))
	}
	if f.Rider != nil {
		add("rider = $%d", f.Rider.Hex())
	}
	if f.Driver != nil {
		add("driver = $%d", f.Driver.Hex())
	}

	q := selectRide
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ledger.Ride{}
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (ledger.Ride, error) {
	var (
		r      ledger.Ride
		id     int64
		rider  string
		driver sql.NullString
		fare   string
		status int16
	)
	err := s.Scan(&id, &rider, &driver, &fare, &status,
		&r.Pickup.Address, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Dropoff.Address, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return ledger.Ride{}, err
	}
	r.ID = uint64(id)
	r.Rider = common.HexToAddress(rider)
	if driver.Valid {
		r.Driver = common.HexToAddress(driver.String)
	}
	if r.Fare, err = uint256.FromDecimal(fare); err != nil {
		return ledger.Ride{}, fmt.Errorf("ride %d fare %q: %w", id, fare, err)
	}
	r.Status = ledger.Status(status)
	return r, nil
}

func nullAddress(a common.Address) sql.NullString {
	if a == (common.Address{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: a.Hex(), Valid: true}
}
