package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

const uniqueViolation = "23505"

var (
	userSortColumns = map[string]string{
		"id":        "id",
		"username":  "username",
		"enabled":   "enabled",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
	}
	roleSortColumns = map[string]string{
		"id":   "id",
		"code": "code",
		"name": "name",
	}
	permissionSortColumns = roleSortColumns
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// bindTxOptions runs binds at READ COMMITTED. Once the owner row lock is
// granted, the replace reads the rows committed by the previous holder.
var bindTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

type conn interface {
	querier
	db.TxBeginner
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool conn
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a read-committed transaction. Binds serialise on the
// owner row lock, so the last writer wins.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTxOptions(ctx, r.pool, bindTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const userColumns = `id, username, password, enabled, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Enabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindUserByUsername fetches a user by exact username.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// ListUsers returns one page of users and the total matching count.
func (r *Repository) ListUsers(ctx context.Context, q UserQuery, page shared.PageRequest) ([]User, int, error) {
	where := &whereBuilder{}
	where.ids(q.ID, q.IDs)
	where.contains("username", q.Username)

	orderBy, err := page.OrderBy(userSortColumns, "id ASC")
	if err != nil {
		return nil, 0, err
	}
	total, err := r.count(ctx, "users", where)
	if err != nil || total == 0 {
		return []User{}, total, err
	}
	sql, args := where.page(`SELECT `+userColumns+` FROM users`, orderBy, page)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("rbac: list users: %w", err)
	}
	defer rows.Close()
	users := make([]User, 0, page.Size)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListRoles returns one page of roles. UserID must be resolved by the caller
// into IDs.
func (r *Repository) ListRoles(ctx context.Context, q RoleQuery, page shared.PageRequest) ([]Role, int, error) {
	where := &whereBuilder{}
	where.ids(q.ID, q.IDs)
	where.contains("name", q.Name)
	where.equals("code", q.Code)

	orderBy, err := page.OrderBy(roleSortColumns, "id ASC")
	if err != nil {
		return nil, 0, err
	}
	total, err := r.count(ctx, "roles", where)
	if err != nil || total == 0 {
		return []Role{}, total, err
	}
	sql, args := where.page(`SELECT id, code, name FROM roles`, orderBy, page)
	roles, err := collectRoles(ctx, r.pool, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("rbac: list roles: %w", err)
	}
	return roles, total, nil
}

// ListPermissions returns one page of permissions. RoleID must be resolved by
// the caller into IDs.
func (r *Repository) ListPermissions(ctx context.Context, q PermissionQuery, page shared.PageRequest) ([]Permission, int, error) {
	where := &whereBuilder{}
	where.ids(q.ID, q.IDs)
	where.contains("name", q.Name)
	where.equals("code", q.Code)

	orderBy, err := page.OrderBy(permissionSortColumns, "id ASC")
	if err != nil {
		return nil, 0, err
	}
	total, err := r.count(ctx, "permissions", where)
	if err != nil || total == 0 {
		return []Permission{}, total, err
	}
	sql, args := where.page(`SELECT id, code, name FROM permissions`, orderBy, page)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("rbac: list permissions: %w", err)
	}
	perms, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Permission])
	if err != nil {
		return nil, 0, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return perms, total, nil
}

// GetRoleWithPermissions loads a role and its permissions with a left join,
// so a role without permissions yields an empty list.
func (r *Repository) GetRoleWithPermissions(ctx context.Context, id int64) (RoleWithPermissions, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.code, r.name, p.id, p.code, p.name
		FROM roles r
		LEFT JOIN role_permission_map rpm ON rpm.role_id = r.id
		LEFT JOIN permissions p ON p.id = rpm.permission_id
		WHERE r.id = $1
		ORDER BY p.id`, id)
	if err != nil {
		return RoleWithPermissions{}, fmt.Errorf("rbac: get role: %w", err)
	}
	defer rows.Close()
	var (
		out   RoleWithPermissions
		found bool
	)
	out.Permissions = []Permission{}
	for rows.Next() {
		var (
			permID         *int64
			permCode, name *string
		)
		if err := rows.Scan(&out.ID, &out.Code, &out.Name, &permID, &permCode, &name); err != nil {
			return RoleWithPermissions{}, err
		}
		found = true
		if permID != nil {
			out.Permissions = append(out.Permissions, Permission{ID: *permID, Code: *permCode, Name: *name})
		}
	}
	if err := rows.Err(); err != nil {
		return RoleWithPermissions{}, err
	}
	if !found {
		return RoleWithPermissions{}, shared.ErrNotFound
	}
	return out, nil
}

// RolesOfUser returns the roles bound to a user.
func (r *Repository) RolesOfUser(ctx context.Context, userID int64) ([]Role, error) {
	roles, err := collectRoles(ctx, r.pool, `
		SELECT r.id, r.code, r.name
		FROM roles r
		JOIN user_role_map urm ON urm.role_id = r.id
		WHERE urm.user_id = $1
		ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles of user: %w", err)
	}
	return roles, nil
}

// PermissionsOfRoles returns the permissions of each given role. Roles without
// permissions are absent from the map.
func (r *Repository) PermissionsOfRoles(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	out := make(map[int64][]Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT rpm.role_id, p.id, p.code, p.name
		FROM role_permission_map rpm
		JOIN permissions p ON p.id = rpm.permission_id
		WHERE rpm.role_id = ANY($1)
		ORDER BY rpm.role_id, p.id`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions of roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			roleID int64
			p      Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Code, &p.Name); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], p)
	}
	return out, rows.Err()
}

// SetUserEnabled toggles the enabled flag.
func (r *Repository) SetUserEnabled(ctx context.Context, username string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET enabled = $2, updated_at = NOW() WHERE username = $1`, username, enabled)
	if err != nil {
		return fmt.Errorf("rbac: set user enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteUserByUsername removes a user and, by cascade, its role bindings.
func (r *Repository) DeleteUserByUsername(ctx context.Context, username string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("rbac: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) count(ctx context.Context, table string, where *whereBuilder) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+where.clause(), where.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("rbac: count %s: %w", table, err)
	}
	return total, nil
}

// CreateUser inserts an enabled user.
func (t *txRepo) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `
		INSERT INTO users (username, password, enabled, created_at, updated_at)
		VALUES ($1, $2, TRUE, NOW(), NOW())
		RETURNING `+userColumns, username, passwordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, shared.ErrDuplicateUsername
		}
		return User{}, fmt.Errorf("rbac: create user: %w", err)
	}
	return u, nil
}

// LockUser takes a row lock on the user, serialising binds for one owner.
func (t *txRepo) LockUser(ctx context.Context, id int64) error {
	return lockRow(ctx, t.tx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id)
}

// LockRole takes a row lock on the role.
func (t *txRepo) LockRole(ctx context.Context, id int64) error {
	return lockRow(ctx, t.tx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id)
}

func (t *txRepo) ExistingRoleIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return collectIDs(ctx, t.tx, `SELECT id FROM roles WHERE id = ANY($1)`, ids)
}

func (t *txRepo) ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return collectIDs(ctx, t.tx, `SELECT id FROM permissions WHERE id = ANY($1)`, ids)
}

// RolesByCodes returns the roles whose code is listed. Unknown codes are
// skipped.
func (t *txRepo) RolesByCodes(ctx context.Context, codes []string) ([]Role, error) {
	if len(codes) == 0 {
		return []Role{}, nil
	}
	return collectRoles(ctx, t.tx, `SELECT id, code, name FROM roles WHERE code = ANY($1) ORDER BY id`, codes)
}

func (t *txRepo) DeleteUserRoles(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM user_role_map WHERE user_id = $1`, userID)
	return err
}

func (t *txRepo) InsertUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_role_map (user_id, role_id)
		SELECT $1::bigint, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, userID, roleIDs)
	return err
}

func (t *txRepo) DeleteRolePermissions(ctx context.Context, roleID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM role_permission_map WHERE role_id = $1`, roleID)
	return err
}

func (t *txRepo) InsertRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO role_permission_map (role_id, permission_id)
		SELECT $1::bigint, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	return err
}

// UpsertRole inserts a role or refreshes its name.
func (t *txRepo) UpsertRole(ctx context.Context, code, name string) (Role, error) {
	var role Role
	err := t.tx.QueryRow(ctx, `
		INSERT INTO roles (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, code, name`, code, name).Scan(&role.ID, &role.Code, &role.Name)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: upsert role %s: %w", code, err)
	}
	return role, nil
}

// UpsertPermission inserts a permission or refreshes its name.
func (t *txRepo) UpsertPermission(ctx context.Context, code, name string) (Permission, error) {
	var perm Permission
	err := t.tx.QueryRow(ctx, `
		INSERT INTO permissions (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, code, name`, code, name).Scan(&perm.ID, &perm.Code, &perm.Name)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: upsert permission %s: %w", code, err)
	}
	return perm, nil
}

func lockRow(ctx context.Context, q querier, sql string, id int64) error {
	var locked int64
	if err := q.QueryRow(ctx, sql, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return err
	}
	return nil
}

func collectIDs(ctx context.Context, q querier, sql string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func collectRoles(ctx context.Context, q querier, sql string, args ...any) ([]Role, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Role])
}

// whereBuilder assembles an AND-joined WHERE clause with positional args.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (b *whereBuilder) add(format string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, fmt.Sprintf(format, len(b.args)))
}

func (b *whereBuilder) ids(id int64, ids []int64) {
	if id != 0 {
		b.add("id = $%d", id)
	}
	if len(ids) > 0 {
		b.add("id = ANY($%d)", ids)
	}
}

func (b *whereBuilder) equals(column, value string) {
	if value != "" {
		b.add(column+" = $%d", value)
	}
}

func (b *whereBuilder) contains(column, value string) {
	if value != "" {
		b.add(column+` ILIKE '%%' || $%d::text || '%%'`, likeEscaper.Replace(value))
	}
}

func (b *whereBuilder) clause() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *whereBuilder) page(base, orderBy string, page shared.PageRequest) (string, []any) {
	args := append([]any{}, b.args...)
	args = append(args, page.Size, page.Offset)
	sql := fmt.Sprintf("%s%s ORDER BY %s, id ASC LIMIT $%d OFFSET $%d",
		base, b.clause(), orderBy, len(args)-1, len(args))
	return sql, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
