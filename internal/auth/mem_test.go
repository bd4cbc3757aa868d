package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldadmin.org/internal/geo"
)

// memStore implements Store in memory for service-level tests. Semantics
// mirror the PostgreSQL store: FindByEmail skips deleted rows, SoftDelete
// revokes tokens, Rotate has exactly one winner.
type memStore struct {
	mu        sync.Mutex
	roles     map[int64]*Role
	perms     map[int64]Permission
	rolePerms map[int64][]int64
	userPerms map[int64][]int64
	users     map[int64]*User
	tokens    map[string]*RefreshToken
	nextUser  int64
}

func (m *memStore) Roles() RoleStore                 { return memRoles{m} }
func (m *memStore) Permissions() PermissionStore     { return memPerms{m} }
func (m *memStore) Users() UserStore                 { return memUsers{m} }
func (m *memStore) RefreshTokens() RefreshTokenStore { return memTokens{m} }

type memRoles struct{ m *memStore }

func (s memRoles) Find(_ context.Context, id int64) (*Role, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if r, ok := s.m.roles[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, ErrNotFound
}

func (s memRoles) List(_ context.Context) ([]*Role, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*Role
	for _, r := range s.m.roles {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

type memPerms struct{ m *memStore }

func (s memPerms) ModuleCodes(_ context.Context) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, p := range s.m.perms {
		if _, ok := seen[p.ModuleCode]; !ok {
			seen[p.ModuleCode] = struct{}{}
			out = append(out, p.ModuleCode)
		}
	}
	return out, nil
}

func (s memPerms) ByRole(_ context.Context, roleID int64) (map[string][]Action, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make(map[string][]Action)
	for _, id := range s.m.rolePerms[roleID] {
		p := s.m.perms[id]
		out[p.ModuleCode] = append(out[p.ModuleCode], p.Action)
	}
	for _, actions := range out {
		sortActions(actions)
	}
	return out, nil
}

func (s memPerms) UserActions(_ context.Context, userID int64) ([]Action, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	seen := map[Action]struct{}{}
	for _, id := range s.m.userPerms[userID] {
		seen[s.m.perms[id].Action] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	return sortedActions(seen), nil
}

func (s memPerms) SetForRole(_ context.Context, roleID int64, permissionIDs []int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (s memPerms) SetForUser(_ context.Context, userID int64, permissionIDs []int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.userPerms[userID] = append([]int64(nil), permissionIDs...)
	return nil
}

type memUsers struct{ m *memStore }

func (s memUsers) Find(_ context.Context, id int64) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if u, ok := s.m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, ErrNotFound
}

func (s memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.users {
		if u.Email == email && u.DeletedAt == nil {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) Create(_ context.Context, u *User, grantIDs []int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.nextUser++
	u.ID = s.m.nextUser
	c := *u
	s.m.users[u.ID] = &c
	if len(grantIDs) > 0 {
		s.m.userPerms[u.ID] = append([]int64(nil), grantIDs...)
	}
	return nil
}

func (s memUsers) Update(_ context.Context, u *User, grantIDs []int64, replaceGrants bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.users[u.ID]; !ok {
		return ErrNotFound
	}
	c := *u
	s.m.users[u.ID] = &c
	if replaceGrants {
		s.m.userPerms[u.ID] = append([]int64(nil), grantIDs...)
	}
	return nil
}

func (s memUsers) SoftDelete(_ context.Context, id int64, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrAlreadyDeleted
	}
	v := at
	u.DeletedAt = &v
	for _, tok := range s.m.tokens {
		if tok.UserID == id {
			tok.Revoked = true
		}
	}
	return nil
}

func (s memUsers) List(_ context.Context, f UserFilter) ([]*User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	roleSet := map[int64]struct{}{}
	for _, id := range f.RoleIDs {
		roleSet[id] = struct{}{}
	}
	var out []*User
	for _, u := range s.m.users {
		if u.DeletedAt != nil {
			continue
		}
		if len(roleSet) > 0 {
			if _, ok := roleSet[u.RoleID]; !ok {
				continue
			}
		}
		if f.Fence != nil {
			v := u.Placement.At(f.Fence.Tier)
			if v == nil || *v != f.Fence.ID {
				continue
			}
		}
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

type memTokens struct{ m *memStore }

func (s memTokens) Create(_ context.Context, tok *RefreshToken, finalize TokenFinalizer, loginAt *time.Time) error {
	signed, err := finalize(tok.ID)
	if err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	tok.Token = signed
	c := *tok
	s.m.tokens[tok.ID] = &c
	if loginAt != nil {
		if u, ok := s.m.users[tok.UserID]; ok {
			v := *loginAt
			u.LastLoginAt = &v
		}
	}
	return nil
}

func (s memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if t, ok := s.m.tokens[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, ErrNotFound
}

func (s memTokens) Rotate(_ context.Context, oldID string, replacement *RefreshToken, finalize TokenFinalizer) error {
	s.m.mu.Lock()
	old, ok := s.m.tokens[oldID]
	if !ok {
		s.m.mu.Unlock()
		return ErrNotFound
	}
	if old.Revoked {
		s.m.mu.Unlock()
		return ErrRevoked
	}
	old.Revoked = true
	s.m.mu.Unlock()

	signed, err := finalize(replacement.ID)
	if err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	replacement.Token = signed
	c := *replacement
	s.m.tokens[replacement.ID] = &c
	return nil
}

func (s memTokens) RevokeAllForUser(_ context.Context, userID int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, tok := range s.m.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

// Geographic fixture shared by the auth tests:
// zone 1 > state 3 > district 12 > organization 30 > unit 44, plus a sibling
// branch zone 2 > state 7 > district 13 > organization 31 > unit 77.
type memGeo struct{}

func (memGeo) FindZone(_ context.Context, id int64) (*geo.Zone, error) {
	if id == 1 || id == 2 {
		return &geo.Zone{ID: id}, nil
	}
	return nil, geo.ErrNotFound
}

func (memGeo) FindState(_ context.Context, id int64) (*geo.State, error) {
	switch id {
	case 3:
		return &geo.State{ID: 3, ZoneID: 1}, nil
	case 7:
		return &geo.State{ID: 7, ZoneID: 2}, nil
	}
	return nil, geo.ErrNotFound
}

func (memGeo) FindDistrict(_ context.Context, id int64) (*geo.District, error) {
	switch id {
	case 12:
		return &geo.District{ID: 12, StateID: 3, ZoneID: 1}, nil
	case 13:
		return &geo.District{ID: 13, StateID: 7, ZoneID: 2}, nil
	}
	return nil, geo.ErrNotFound
}

func (memGeo) FindOrganization(_ context.Context, id int64) (*geo.Organization, error) {
	switch id {
	case 30:
		return &geo.Organization{ID: 30, DistrictID: 12}, nil
	case 31:
		return &geo.Organization{ID: 31, DistrictID: 13}, nil
	}
	return nil, geo.ErrNotFound
}

func (memGeo) FindUnit(_ context.Context, id int64) (*geo.Unit, error) {
	switch id {
	case 44:
		return &geo.Unit{ID: 44, ZoneID: 1, StateID: 3, DistrictID: 12, OrganizationID: 30}, nil
	case 77:
		return &geo.Unit{ID: 77, ZoneID: 2, StateID: 7, DistrictID: 13, OrganizationID: 31}, nil
	}
	return nil, geo.ErrNotFound
}

// Role ids used by the fixture.
const (
	roleSuper    int64 = 1
	roleZone     int64 = 2
	roleState    int64 = 3
	roleDistrict int64 = 4
	roleOrg      int64 = 5
	roleUnitUser int64 = 6
)

// User ids used by the fixture.
const (
	userRoot     int64 = 1
	userDistrict int64 = 2
	userUnit     int64 = 3
	userOtherOrg int64 = 4
)

const testPassword = "correct horse battery"

// One bcrypt round for the whole test binary.
var testHash = func() string {
	h, err := HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return h
}()

// Permission ids: reports 1-4, user_scope 5-6, geography 7, forms 8-11.
func fixturePerms() map[int64]Permission {
	return map[int64]Permission{
		1:  {ID: 1, ModuleCode: ModuleReports, Action: ActionView},
		2:  {ID: 2, ModuleCode: ModuleReports, Action: ActionAdd},
		3:  {ID: 3, ModuleCode: ModuleReports, Action: ActionEdit},
		4:  {ID: 4, ModuleCode: ModuleReports, Action: ActionDelete},
		5:  {ID: 5, ModuleCode: ModuleUserScope, Action: ActionView},
		6:  {ID: 6, ModuleCode: ModuleUserScope, Action: ActionEdit},
		7:  {ID: 7, ModuleCode: ModuleGeography, Action: ActionView},
		8:  {ID: 8, ModuleCode: ModuleForms, Action: ActionView},
		9:  {ID: 9, ModuleCode: ModuleForms, Action: ActionAdd},
		10: {ID: 10, ModuleCode: ModuleForms, Action: ActionEdit},
		11: {ID: 11, ModuleCode: ModuleForms, Action: ActionDelete},
	}
}

func fixtureAuthStore() *memStore {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &memStore{
		roles: map[int64]*Role{
			roleSuper:    {ID: roleSuper, Name: "super_admin", HierarchyLevel: 0},
			roleZone:     {ID: roleZone, Name: "zone_admin", HierarchyLevel: 1},
			roleState:    {ID: roleState, Name: "state_admin", HierarchyLevel: 2},
			roleDistrict: {ID: roleDistrict, Name: "district_admin", HierarchyLevel: 3},
			roleOrg:      {ID: roleOrg, Name: "organization_admin", HierarchyLevel: 4},
			roleUnitUser: {ID: roleUnitUser, Name: "unit_user", HierarchyLevel: 5},
		},
		perms: fixturePerms(),
		rolePerms: map[int64][]int64{
			roleSuper:    {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
			roleZone:     {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
			roleState:    {1, 2, 3, 5, 7, 8, 9, 10},
			roleDistrict: {1, 2, 3, 5, 7, 8, 9},
			roleOrg:      {1, 2, 7, 8, 9},
			// Restricted ceiling: reports view/add/edit plus forms view.
			roleUnitUser: {1, 2, 3, 8},
		},
		userPerms: map[int64][]int64{},
		users: map[int64]*User{
			userRoot: {
				ID: userRoot, Email: "root@example.test", PasswordHash: testHash,
				RoleID: roleSuper, CreatedAt: t0, UpdatedAt: t0,
			},
			userDistrict: {
				ID: userDistrict, Email: "district@example.test", PasswordHash: testHash,
				RoleID: roleDistrict,
				Placement: geo.Placement{
					ZoneID: geo.ID(1), StateID: geo.ID(3), DistrictID: geo.ID(12),
				},
				CreatedAt: t0, UpdatedAt: t0,
			},
			userUnit: {
				ID: userUnit, Email: "unit@example.test", PasswordHash: testHash,
				RoleID: roleUnitUser,
				Placement: geo.Placement{
					ZoneID: geo.ID(1), StateID: geo.ID(3), DistrictID: geo.ID(12),
					OrganizationID: geo.ID(30), UnitID: geo.ID(44),
				},
				CreatedAt: t0, UpdatedAt: t0,
			},
			userOtherOrg: {
				ID: userOtherOrg, Email: "org@example.test", PasswordHash: testHash,
				RoleID: roleOrg,
				Placement: geo.Placement{
					ZoneID: geo.ID(2), StateID: geo.ID(7), DistrictID: geo.ID(13),
					OrganizationID: geo.ID(31),
				},
				CreatedAt: t0, UpdatedAt: t0,
			},
		},
		tokens:   map[string]*RefreshToken{},
		nextUser: 100,
	}
}

// testClock is a movable time source shared by the service and its tokens.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memStore, *TokenService, *testClock) {
	t.Helper()
	clock := newTestClock()
	ts, err := NewTokenService("test-secret", "fieldadmin", 15*time.Minute, 24*time.Hour, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	store := fixtureAuthStore()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc, err := NewService(store, memGeo{}, ts, opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, store, ts, clock
}
