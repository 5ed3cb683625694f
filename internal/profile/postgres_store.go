package profile

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/riskgate/internal/geo"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_profiles table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_profiles (
			user_id        VARCHAR(128) PRIMARY KEY,
			country        VARCHAR(8),
			region         VARCHAR(128),
			city           VARCHAR(128),
			latitude       DOUBLE PRECISION,
			longitude      DOUBLE PRECISION,
			phone          VARCHAR(32) NOT NULL DEFAULT '',
			phone_verified BOOLEAN NOT NULL DEFAULT FALSE,
			email          VARCHAR(320) NOT NULL DEFAULT '',
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var (
		prof                  = &Profile{}
		country, region, city sql.NullString
		lat, lon              sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, country, region, city, latitude, longitude,
		       phone, phone_verified, email, email_verified, updated_at
		FROM user_profiles
		WHERE user_id = $1`, userID,
	).Scan(
		&prof.UserID, &country, &region, &city, &lat, &lon,
		&prof.Phone, &prof.PhoneVerified, &prof.Email, &prof.EmailVerified, &prof.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if country.Valid && country.String != "" {
		loc := &geo.Location{Country: country.String, Region: region.String, City: city.String}
		if lat.Valid && lon.Valid {
			la, lo := lat.Float64, lon.Float64
			loc.Latitude, loc.Longitude = &la, &lo
		}
		prof.RegisteredLocation = loc
	}
	return prof, nil
}

// Put inserts or replaces the profile.
func (p *PostgresStore) Put(ctx context.Context, prof *Profile) error {
	var (
		country, region, city sql.NullString
		lat, lon              sql.NullFloat64
	)
	if loc := prof.RegisteredLocation; loc != nil {
		country = sql.NullString{String: loc.Country, Valid: true}
		region = sql.NullString{String: loc.Region, Valid: loc.Region != ""}
		city = sql.NullString{String: loc.City, Valid: loc.City != ""}
		if loc.HasCoordinates() {
			lat = sql.NullFloat64{Float64: *loc.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: *loc.Longitude, Valid: true}
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_profiles (
			user_id, country, region, city, latitude, longitude,
			phone, phone_verified, email, email_verified, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			country = EXCLUDED.country,
			region = EXCLUDED.region,
			city = EXCLUDED.city,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			phone = EXCLUDED.phone,
			phone_verified = EXCLUDED.phone_verified,
			email = EXCLUDED.email,
			email_verified = EXCLUDED.email_verified,
			updated_at = EXCLUDED.updated_at`,
		prof.UserID, country, region, city, lat, lon,
		prof.Phone, prof.PhoneVerified, prof.Email, prof.EmailVerified, prof.UpdatedAt,
	)
	return err
}

var _ Store = (*PostgresStore)(nil)
