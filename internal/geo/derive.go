package geo

import (
	"context"
	"errors"
)

// Deriver fills missing ancestors of a partial placement from whichever
// descendant is known. It replaces the per-tier switch ladders of the earlier
// implementation with one table of ancestor lookups.
type Deriver struct {
	store Store
}

func NewDeriver(store Store) *Deriver {
	return &Deriver{store: store}
}

// Ancestors returns the stored ancestor ids of the node with the given id at
// the given tier, walking parent keys transitively (an organization yields its
// district, then that district's state and zone). The second return reports
// whether the node itself exists. A dangling parent key terminates the walk
// without error; only storage failures propagate.
func (d *Deriver) Ancestors(ctx context.Context, t Tier, id int64) (Placement, bool, error) {
	var anc Placement
	switch t {
	case TierZone:
		_, err := d.store.FindZone(ctx, id)
		if err != nil {
			return anc, false, ignoreNotFound(err)
		}
		return anc, true, nil

	case TierState:
		st, err := d.store.FindState(ctx, id)
		if err != nil {
			return anc, false, ignoreNotFound(err)
		}
		anc.Set(TierZone, st.ZoneID)
		return anc, true, nil

	case TierDistrict:
		dis, err := d.store.FindDistrict(ctx, id)
		if err != nil {
			return anc, false, ignoreNotFound(err)
		}
		anc.Set(TierState, dis.StateID)
		anc.Set(TierZone, dis.ZoneID)
		return anc, true, nil

	case TierOrganization:
		org, err := d.store.FindOrganization(ctx, id)
		if err != nil {
			return anc, false, ignoreNotFound(err)
		}
		anc.Set(TierDistrict, org.DistrictID)
		parent, ok, err := d.Ancestors(ctx, TierDistrict, org.DistrictID)
		if err != nil {
			return anc, true, err
		}
		if ok {
			fillAbsent(&anc, parent)
		}
		return anc, true, nil

	case TierUnit:
		u, err := d.store.FindUnit(ctx, id)
		if err != nil {
			return anc, false, ignoreNotFound(err)
		}
		anc.Set(TierZone, u.ZoneID)
		anc.Set(TierState, u.StateID)
		anc.Set(TierDistrict, u.DistrictID)
		anc.Set(TierOrganization, u.OrganizationID)
		return anc, true, nil
	}
	return anc, false, nil
}

// Derive fills every derivable-but-missing ancestor of p in a single pass,
// most specific source first. A field that is already present is never
// overwritten, and a lookup miss leaves the field absent; the caller validates
// the full tuple afterwards.
func (d *Deriver) Derive(ctx context.Context, p Placement) (Placement, error) {
	if p.UnitID != nil {
		anc, ok, err := d.Ancestors(ctx, TierUnit, *p.UnitID)
		if err != nil {
			return p, err
		}
		if ok {
			fillAbsent(&p, anc)
		}
	}
	if p.DistrictID != nil && (p.StateID == nil || p.ZoneID == nil) {
		anc, ok, err := d.Ancestors(ctx, TierDistrict, *p.DistrictID)
		if err != nil {
			return p, err
		}
		if ok {
			fillAbsent(&p, anc)
		}
	}
	if p.OrganizationID != nil && (p.StateID == nil || p.ZoneID == nil) {
		anc, ok, err := d.Ancestors(ctx, TierOrganization, *p.OrganizationID)
		if err != nil {
			return p, err
		}
		if ok {
			fillAbsent(&p, anc)
		}
	}
	if p.StateID != nil && p.ZoneID == nil {
		anc, ok, err := d.Ancestors(ctx, TierState, *p.StateID)
		if err != nil {
			return p, err
		}
		if ok {
			fillAbsent(&p, anc)
		}
	}
	return p, nil
}

// fillAbsent copies src fields into dst wherever dst has no value yet.
func fillAbsent(dst *Placement, src Placement) {
	for _, t := range Tiers {
		if dst.At(t) == nil && src.At(t) != nil {
			dst.Set(t, *src.At(t))
		}
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
