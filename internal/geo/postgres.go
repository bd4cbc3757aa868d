package geo

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store against PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) FindZone(ctx context.Context, id int64) (*Zone, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name from zones where id=$1`, id)
	var z Zone
	if err := row.Scan(&z.ID, &z.Name); err != nil {
		return nil, mapNoRows(err)
	}
	return &z, nil
}

func (s *PGStore) FindState(ctx context.Context, id int64) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, zone_id from states where id=$1`, id)
	var st State
	if err := row.Scan(&st.ID, &st.Name, &st.ZoneID); err != nil {
		return nil, mapNoRows(err)
	}
	return &st, nil
}

func (s *PGStore) FindDistrict(ctx context.Context, id int64) (*District, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, state_id, zone_id from districts where id=$1`, id)
	var d District
	if err := row.Scan(&d.ID, &d.Name, &d.StateID, &d.ZoneID); err != nil {
		return nil, mapNoRows(err)
	}
	return &d, nil
}

func (s *PGStore) FindOrganization(ctx context.Context, id int64) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, district_id from organizations where id=$1`, id)
	var o Organization
	if err := row.Scan(&o.ID, &o.Name, &o.DistrictID); err != nil {
		return nil, mapNoRows(err)
	}
	return &o, nil
}

func (s *PGStore) FindUnit(ctx context.Context, id int64) (*Unit, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, zone_id, state_id, district_id, organization_id from units where id=$1`, id)
	var u Unit
	if err := row.Scan(&u.ID, &u.Name, &u.ZoneID, &u.StateID, &u.DistrictID, &u.OrganizationID); err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
