package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fieldadmin.org/internal/geo"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Roles() RoleStore                 { return &roleStore{db: s.db} }
func (s *PGStore) Permissions() PermissionStore     { return &permissionStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

// mapPGError translates constraint violations into the package's sentinel
// errors; everything else passes through untouched.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
		}
	}
	return err
}

// Role store ----------------------------------------------------------------
type roleStore struct{ db *sql.DB }

func (s *roleStore) Find(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, hierarchy_level, created_at, updated_at from roles where id=$1`, id)
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.HierarchyLevel, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, hierarchy_level, created_at, updated_at from roles order by hierarchy_level, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.HierarchyLevel, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

// Permission store ----------------------------------------------------------
type permissionStore struct{ db *sql.DB }

func (s *permissionStore) ModuleCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select distinct module_code from permissions order by module_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *permissionStore) ByRole(ctx context.Context, roleID int64) (map[string][]Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.module_code, p.action from permissions p
		 join role_permissions rp on rp.permission_id=p.id where rp.role_id=$1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make(map[string][]Action)
	for rows.Next() {
		var (
			module string
			action Action
		)
		if err := rows.Scan(&module, &action); err != nil {
			return nil, err
		}
		perms[module] = append(perms[module], action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, actions := range perms {
		sortActions(actions)
	}
	return perms, nil
}

func (s *permissionStore) UserActions(ctx context.Context, userID int64) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`select distinct p.action from permissions p
		 join user_permissions up on up.permission_id=p.id where up.user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortActions(actions)
	return actions, nil
}

func (s *permissionStore) SetForRole(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, id := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id) values($1,$2)`, roleID, id); err != nil {
			return mapPGError(err)
		}
	}
	return tx.Commit()
}

func (s *permissionStore) SetForUser(ctx context.Context, userID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from user_permissions where user_id=$1`, userID); err != nil {
		return err
	}
	for _, id := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into user_permissions(user_id, permission_id) values($1,$2)`, userID, id); err != nil {
			return mapPGError(err)
		}
	}
	return tx.Commit()
}

// User store ----------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, email, password_hash, role_id,
	zone_id, state_id, district_id, organization_id, unit_id,
	last_login_at, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		geoIDs    [5]sql.NullInt64
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RoleID,
		&geoIDs[0], &geoIDs[1], &geoIDs[2], &geoIDs[3], &geoIDs[4],
		&lastLogin, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	for i, t := range geo.Tiers {
		if geoIDs[i].Valid {
			u.Placement.Set(t, geoIDs[i].Int64)
		}
	}
	if lastLogin.Valid {
		v := lastLogin.Time
		u.LastLoginAt = &v
	}
	if deletedAt.Valid {
		v := deletedAt.Time
		u.DeletedAt = &v
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 and deleted_at is null`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *userStore) Create(ctx context.Context, u *User, grantIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`insert into users(email, password_hash, role_id, zone_id, state_id, district_id, organization_id, unit_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 returning id, created_at, updated_at`,
		u.Email, u.PasswordHash, u.RoleID,
		u.Placement.ZoneID, u.Placement.StateID, u.Placement.DistrictID,
		u.Placement.OrganizationID, u.Placement.UnitID,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapPGError(err)
	}
	for _, id := range grantIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into user_permissions(user_id, permission_id) values($1,$2)`, u.ID, id); err != nil {
			return mapPGError(err)
		}
	}
	return tx.Commit()
}

func (s *userStore) Update(ctx context.Context, u *User, grantIDs []int64, replaceGrants bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`update users set email=$2, password_hash=$3, role_id=$4,
		 zone_id=$5, state_id=$6, district_id=$7, organization_id=$8, unit_id=$9,
		 updated_at=now()
		 where id=$1 and deleted_at is null
		 returning updated_at`,
		u.ID, u.Email, u.PasswordHash, u.RoleID,
		u.Placement.ZoneID, u.Placement.StateID, u.Placement.DistrictID,
		u.Placement.OrganizationID, u.Placement.UnitID,
	)
	if err := row.Scan(&u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return mapPGError(err)
	}
	if replaceGrants {
		if _, err := tx.ExecContext(ctx, `delete from user_permissions where user_id=$1`, u.ID); err != nil {
			return err
		}
		for _, id := range grantIDs {
			if _, err := tx.ExecContext(ctx,
				`insert into user_permissions(user_id, permission_id) values($1,$2)`, u.ID, id); err != nil {
				return mapPGError(err)
			}
		}
	}
	return tx.Commit()
}

func (s *userStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update users set deleted_at=$2, updated_at=$2 where id=$1 and deleted_at is null`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyDeleted
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and not revoked`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *userStore) List(ctx context.Context, f UserFilter) ([]*User, error) {
	var (
		where = []string{"deleted_at is null"}
		args  []any
	)
	if len(f.RoleIDs) > 0 {
		ph := make([]string, len(f.RoleIDs))
		for i, id := range f.RoleIDs {
			args = append(args, id)
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, fmt.Sprintf("role_id in (%s)", strings.Join(ph, ",")))
	}
	if f.Fence != nil {
		args = append(args, f.Fence.ID)
		where = append(where, fmt.Sprintf("%s_id = $%d", f.Fence.Tier, len(args)))
	}

	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where `+strings.Join(where, " and ")+` order by id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Refresh token store -------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

// tokenPlaceholder occupies the token column between insert and finalize so
// the signed form can embed the row id.
const tokenPlaceholder = "pending"

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken, finalize TokenFinalizer, loginAt *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertToken(ctx, tx, tok, finalize); err != nil {
		return err
	}
	if loginAt != nil {
		if _, err := tx.ExecContext(ctx,
			`update users set last_login_at=$2, updated_at=$2 where id=$1`, tok.UserID, *loginAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *refreshTokenStore) Rotate(ctx context.Context, oldID string, replacement *RefreshToken, finalize TokenFinalizer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The not-revoked predicate decides concurrent rotations of the same
	// token: the loser matches zero rows and writes nothing.
	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1 and not revoked`, oldID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRevoked
	}
	if err := insertToken(ctx, tx, replacement, finalize); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and not revoked`, userID)
	return err
}

func insertToken(ctx context.Context, tx *sql.Tx, tok *RefreshToken, finalize TokenFinalizer) error {
	row := tx.QueryRowContext(ctx,
		`insert into refresh_tokens(id, user_id, token, expires_at) values($1,$2,$3,$4) returning created_at`,
		tok.ID, tok.UserID, tokenPlaceholder, tok.ExpiresAt)
	if err := row.Scan(&tok.CreatedAt); err != nil {
		return mapPGError(err)
	}
	signed, err := finalize(tok.ID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set token=$2 where id=$1`, tok.ID, signed); err != nil {
		return err
	}
	tok.Token = signed
	return nil
}
