// Package geo models the fixed five-tier placement hierarchy
// (zone > state > district > organization > unit) and derives complete
// placements from partial ones by walking stored parent keys.
package geo

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("geo: not found")

// Tier is one level of the hierarchy, ordered coarse to fine.
type Tier int

const (
	TierZone Tier = iota
	TierState
	TierDistrict
	TierOrganization
	TierUnit
)

// Tiers lists every tier from coarsest to finest.
var Tiers = []Tier{TierZone, TierState, TierDistrict, TierOrganization, TierUnit}

func (t Tier) String() string {
	switch t {
	case TierZone:
		return "zone"
	case TierState:
		return "state"
	case TierDistrict:
		return "district"
	case TierOrganization:
		return "organization"
	case TierUnit:
		return "unit"
	default:
		return "unknown"
	}
}

// Zone is the top of the hierarchy and stores no parent.
type Zone struct {
	ID   int64
	Name string
}

type State struct {
	ID     int64
	Name   string
	ZoneID int64
}

// District stores both its state and, denormalized, its zone.
type District struct {
	ID      int64
	Name    string
	StateID int64
	ZoneID  int64
}

// Organization stores only its district; state and zone are derived
// transitively.
type Organization struct {
	ID         int64
	Name       string
	DistrictID int64
}

// Unit is the finest tier and stores all four ancestor keys directly.
type Unit struct {
	ID             int64
	Name           string
	ZoneID         int64
	StateID        int64
	DistrictID     int64
	OrganizationID int64
}

// Store is the read-only lookup surface of the hierarchy. A missing row is
// reported as ErrNotFound, never invented.
type Store interface {
	FindZone(ctx context.Context, id int64) (*Zone, error)
	FindState(ctx context.Context, id int64) (*State, error)
	FindDistrict(ctx context.Context, id int64) (*District, error)
	FindOrganization(ctx context.Context, id int64) (*Organization, error)
	FindUnit(ctx context.Context, id int64) (*Unit, error)
}

// Placement is a possibly partial position in the hierarchy. Fields use
// pointers because presence is what matters: an explicit 0 is a present value,
// not an absent one.
type Placement struct {
	ZoneID         *int64 `json:"zone_id,omitempty"`
	StateID        *int64 `json:"state_id,omitempty"`
	DistrictID     *int64 `json:"district_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
	UnitID         *int64 `json:"unit_id,omitempty"`
}

// At returns the id stored for the given tier, or nil when absent.
func (p Placement) At(t Tier) *int64 {
	switch t {
	case TierZone:
		return p.ZoneID
	case TierState:
		return p.StateID
	case TierDistrict:
		return p.DistrictID
	case TierOrganization:
		return p.OrganizationID
	case TierUnit:
		return p.UnitID
	}
	return nil
}

// Set stores an id for the given tier.
func (p *Placement) Set(t Tier, id int64) {
	v := id
	switch t {
	case TierZone:
		p.ZoneID = &v
	case TierState:
		p.StateID = &v
	case TierDistrict:
		p.DistrictID = &v
	case TierOrganization:
		p.OrganizationID = &v
	case TierUnit:
		p.UnitID = &v
	}
}

// Clear removes the id stored for the given tier.
func (p *Placement) Clear(t Tier) {
	switch t {
	case TierZone:
		p.ZoneID = nil
	case TierState:
		p.StateID = nil
	case TierDistrict:
		p.DistrictID = nil
	case TierOrganization:
		p.OrganizationID = nil
	case TierUnit:
		p.UnitID = nil
	}
}

// ID is a literal-pointer helper for building placements.
func ID(v int64) *int64 { return &v }
