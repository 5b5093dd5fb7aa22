package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes metrics. The analytics live in database
// functions; Store only moves rows.
type Store interface {
	Locations(ctx context.Context, r Range) ([]Location, error)
	Visits(ctx context.Context, r Range) ([]Visit, error)
	InsertLocations(ctx context.Context, locations []Location) error
	InsertVisits(ctx context.Context, visits []Visit) error
	TimeIn(ctx context.Context) ([]TimeIn, error)
	TopLimit(ctx context.Context) ([]ProgramUsage, error)
	ProgramUsageByHour(ctx context.Context) ([]ProgramUsage, error)
}

const (
	selectLocations = `
		select date, latitude, longitude, altitude, horizontal_accuracy,
			vertical_accuracy, course, speed, floor
		from get_locations()
		where ($1::timestamptz is null or date >= $1)
			and ($2::timestamptz is null or date <= $2)
		order by date`

	selectVisits = `
		select arrival, departure, latitude, longitude, horizontal_accuracy
		from get_visits()
		where ($1::timestamptz is null or departure >= $1)
			and ($2::timestamptz is null or arrival <= $2)
		order by arrival nulls first`

	insertLocation = `
		insert into locations (date, latitude, longitude, altitude, horizontal_accuracy,
			vertical_accuracy, course, speed, floor)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertVisit = `
		insert into visits (arrival, departure, latitude, longitude, horizontal_accuracy)
		values ($1, $2, $3, $4, $5)`

	selectTimeIn = `select day_of_week::text, avg_minutes::float8 from time_in()`

	selectTopLimit = `
		select hour_of_day::float8, program::text, window_title::text, count::int8
		from top_foo()`

	selectProgramUsage = `
		select hour_of_day::float8, program::text, window_title::text, count::int8
		from program_usage_by_hour()`
)

// PgStore is a Store backed by a pgx connection pool.
type PgStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for url. Connections are made lazily.
func Connect(ctx context.Context, url string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Close() {
	s.pool.Close()
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) Locations(ctx context.Context, r Range) ([]Location, error) {
	start, end := r.bounds()
	rows, err := s.pool.Query(ctx, selectLocations, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying locations: %w", err)
	}

	locations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Location, error) {
		var l Location
		err := row.Scan(&l.Date, &l.Latitude, &l.Longitude, &l.Altitude, &l.HorizontalAccuracy,
			&l.VerticalAccuracy, &l.Course, &l.Speed, &l.Floor)
		l.normalize()
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading locations: %w", err)
	}
	return locations, nil
}

func (s *PgStore) Visits(ctx context.Context, r Range) ([]Visit, error) {
	start, end := r.bounds()
	rows, err := s.pool.Query(ctx, selectVisits, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying visits: %w", err)
	}

	visits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Visit, error) {
		var v Visit
		err := row.Scan(&v.Arrival, &v.Departure, &v.Latitude, &v.Longitude, &v.HorizontalAccuracy)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading visits: %w", err)
	}
	return visits, nil
}

// InsertLocations stores all locations in one transaction.
func (s *PgStore) InsertLocations(ctx context.Context, locations []Location) error {
	if len(locations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range locations {
		batch.Queue(insertLocation, l.Date.UTC(), l.Latitude, l.Longitude, l.Altitude,
			l.HorizontalAccuracy, l.VerticalAccuracy, l.Course, l.Speed, l.Floor)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("inserting locations: %w", err)
	}
	return nil
}

// InsertVisits stores all visits in one transaction.
func (s *PgStore) InsertVisits(ctx context.Context, visits []Visit) error {
	if len(visits) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, v := range visits {
		batch.Queue(insertVisit, utcPtr(v.Arrival), utcPtr(v.Departure), v.Latitude, v.Longitude,
			v.HorizontalAccuracy)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("inserting visits: %w", err)
	}
	return nil
}

func (s *PgStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PgStore) TimeIn(ctx context.Context) ([]TimeIn, error) {
	rows, err := s.pool.Query(ctx, selectTimeIn)
	if err != nil {
		return nil, fmt.Errorf("querying time in: %w", err)
	}
	times, err := pgx.CollectRows(rows, pgx.RowToStructByPos[TimeIn])
	if err != nil {
		return nil, fmt.Errorf("reading time in: %w", err)
	}
	return times, nil
}

func (s *PgStore) TopLimit(ctx context.Context) ([]ProgramUsage, error) {
	return s.programUsage(ctx, selectTopLimit)
}

func (s *PgStore) ProgramUsageByHour(ctx context.Context) ([]ProgramUsage, error) {
	return s.programUsage(ctx, selectProgramUsage)
}

func (s *PgStore) programUsage(ctx context.Context, query string) ([]ProgramUsage, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying program usage: %w", err)
	}
	usage, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ProgramUsage])
	if err != nil {
		return nil, fmt.Errorf("reading program usage: %w", err)
	}
	return usage, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
