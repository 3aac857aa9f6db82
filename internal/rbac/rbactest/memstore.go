// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

type state struct {
	nextID      int64
	users       map[int64]rbac.User
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
	userRoles   map[int64]map[int64]struct{}
	rolePerms   map[int64]map[int64]struct{}
}

func (s *state) clone() *state {
	c := &state{
		nextID:      s.nextID,
		users:       make(map[int64]rbac.User, len(s.users)),
		roles:       make(map[int64]rbac.Role, len(s.roles)),
		permissions: make(map[int64]rbac.Permission, len(s.permissions)),
		userRoles:   make(map[int64]map[int64]struct{}, len(s.userRoles)),
		rolePerms:   make(map[int64]map[int64]struct{}, len(s.rolePerms)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, set := range s.userRoles {
		c.userRoles[k] = cloneSet(set)
	}
	for k, set := range s.rolePerms {
		c.rolePerms[k] = cloneSet(set)
	}
	return c
}

func cloneSet(set map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

// MemoryStore implements rbac.Store. WithTx works on a copy and publishes it
// only when the callback succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   *state
	// FailNext, when set, is returned by the next read call.
	FailNext error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &state{
		users:       map[int64]rbac.User{},
		roles:       map[int64]rbac.Role{},
		permissions: map[int64]rbac.Permission{},
		userRoles:   map[int64]map[int64]struct{}{},
		rolePerms:   map[int64]map[int64]struct{}{},
	}}
}

// AddPermission inserts a permission directly.
func (m *MemoryStore) AddPermission(code, name string) rbac.Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _ := (&memTx{st: m.st}).UpsertPermission(context.Background(), code, name)
	return p
}

// AddRole inserts a role directly.
func (m *MemoryStore) AddRole(code, name string) rbac.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, _ := (&memTx{st: m.st}).UpsertRole(context.Background(), code, name)
	return r
}

// AddUser inserts an enabled user directly.
func (m *MemoryStore) AddUser(username, passwordHash string) rbac.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ := (&memTx{st: m.st}).CreateUser(context.Background(), username, passwordHash)
	return u
}

// WithTx runs fn against a snapshot, committing it only on success.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, rbac.TxStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	working := m.st.clone()
	m.mu.Unlock()

	if err := fn(ctx, &memTx{st: working}); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = working
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) read() (*state, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return nil, err
	}
	return m.st, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (rbac.User, error) {
	st, err := m.read()
	if err != nil {
		return rbac.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := st.users[id]
	if !ok {
		return rbac.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (rbac.User, error) {
	st, err := m.read()
	if err != nil {
		return rbac.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range st.users {
		if u.Username == username {
			return u, nil
		}
	}
	return rbac.User{}, shared.ErrNotFound
}

func (m *MemoryStore) ListUsers(_ context.Context, q rbac.UserQuery, page shared.PageRequest) ([]rbac.User, int, error) {
	st, err := m.read()
	if err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	var users []rbac.User
	for _, u := range st.users {
		if matchIDs(u.ID, q.ID, q.IDs) && contains(u.Username, q.Username) {
			users = append(users, u)
		}
	}
	m.mu.Unlock()
	if err := sortBy(users, page, func(u rbac.User, field string) (string, bool) {
		switch field {
		case "id":
			return fmt.Sprintf("%020d", u.ID), true
		case "username":
			return u.Username, true
		case "enabled":
			return fmt.Sprint(u.Enabled), true
		case "createdAt":
			return u.CreatedAt.Format(time.RFC3339Nano), true
		case "updatedAt":
			return u.UpdatedAt.Format(time.RFC3339Nano), true
		}
		return "", false
	}, func(u rbac.User) int64 { return u.ID }); err != nil {
		return nil, 0, err
	}
	out, total := slice(users, page)
	return out, total, nil
}

func (m *MemoryStore) ListRoles(_ context.Context, q rbac.RoleQuery, page shared.PageRequest) ([]rbac.Role, int, error) {
	st, err := m.read()
	if err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	var roles []rbac.Role
	for _, r := range st.roles {
		if matchIDs(r.ID, q.ID, q.IDs) && contains(r.Name, q.Name) && (q.Code == "" || q.Code == r.Code) {
			roles = append(roles, r)
		}
	}
	m.mu.Unlock()
	if err := sortBy(roles, page, codeNameField[rbac.Role](func(r rbac.Role) (int64, string, string) {
		return r.ID, r.Code, r.Name
	}), func(r rbac.Role) int64 { return r.ID }); err != nil {
		return nil, 0, err
	}
	out, total := slice(roles, page)
	return out, total, nil
}

func (m *MemoryStore) ListPermissions(_ context.Context, q rbac.PermissionQuery, page shared.PageRequest) ([]rbac.Permission, int, error) {
	st, err := m.read()
	if err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	var perms []rbac.Permission
	for _, p := range st.permissions {
		if matchIDs(p.ID, q.ID, q.IDs) && contains(p.Name, q.Name) && (q.Code == "" || q.Code == p.Code) {
			perms = append(perms, p)
		}
	}
	m.mu.Unlock()
	if err := sortBy(perms, page, codeNameField[rbac.Permission](func(p rbac.Permission) (int64, string, string) {
		return p.ID, p.Code, p.Name
	}), func(p rbac.Permission) int64 { return p.ID }); err != nil {
		return nil, 0, err
	}
	out, total := slice(perms, page)
	return out, total, nil
}

func (m *MemoryStore) GetRoleWithPermissions(_ context.Context, id int64) (rbac.RoleWithPermissions, error) {
	st, err := m.read()
	if err != nil {
		return rbac.RoleWithPermissions{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := st.roles[id]
	if !ok {
		return rbac.RoleWithPermissions{}, shared.ErrNotFound
	}
	return rbac.RoleWithPermissions{Role: role, Permissions: permsOf(st, id)}, nil
}

func (m *MemoryStore) RolesOfUser(_ context.Context, userID int64) ([]rbac.Role, error) {
	st, err := m.read()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := []rbac.Role{}
	for id := range st.userRoles[userID] {
		roles = append(roles, st.roles[id])
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (m *MemoryStore) PermissionsOfRoles(_ context.Context, roleIDs []int64) (map[int64][]rbac.Permission, error) {
	st, err := m.read()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64][]rbac.Permission, len(roleIDs))
	for _, id := range roleIDs {
		if perms := permsOf(st, id); len(perms) > 0 {
			out[id] = perms
		}
	}
	return out, nil
}

func (m *MemoryStore) SetUserEnabled(_ context.Context, username string, enabled bool) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.st.users {
		if u.Username == username {
			u.Enabled = enabled
			u.UpdatedAt = time.Now()
			m.st.users[id] = u
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *MemoryStore) DeleteUserByUsername(_ context.Context, username string) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.st.users {
		if u.Username == username {
			delete(m.st.users, id)
			delete(m.st.userRoles, id)
			return nil
		}
	}
	return shared.ErrNotFound
}

// UserRoleIDs returns the committed role ids bound to a user, sorted.
func (m *MemoryStore) UserRoleIDs(userID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.st.userRoles[userID])
}

// RolePermissionIDs returns the committed permission ids bound to a role, sorted.
func (m *MemoryStore) RolePermissionIDs(roleID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.st.rolePerms[roleID])
}

type memTx struct {
	st *state
}

func (t *memTx) CreateUser(_ context.Context, username, passwordHash string) (rbac.User, error) {
	for _, u := range t.st.users {
		if u.Username == username {
			return rbac.User{}, shared.ErrDuplicateUsername
		}
	}
	t.st.nextID++
	now := time.Now()
	u := rbac.User{ID: t.st.nextID, Username: username, PasswordHash: passwordHash, Enabled: true, CreatedAt: now, UpdatedAt: now}
	t.st.users[u.ID] = u
	return u, nil
}

func (t *memTx) LockUser(_ context.Context, id int64) error {
	if _, ok := t.st.users[id]; !ok {
		return shared.ErrNotFound
	}
	return nil
}

func (t *memTx) LockRole(_ context.Context, id int64) error {
	if _, ok := t.st.roles[id]; !ok {
		return shared.ErrNotFound
	}
	return nil
}

func (t *memTx) ExistingRoleIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := t.st.roles[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memTx) ExistingPermissionIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := t.st.permissions[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memTx) RolesByCodes(_ context.Context, codes []string) ([]rbac.Role, error) {
	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		want[c] = struct{}{}
	}
	var out []rbac.Role
	for _, r := range t.st.roles {
		if _, ok := want[r.Code]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) DeleteUserRoles(_ context.Context, userID int64) error {
	delete(t.st.userRoles, userID)
	return nil
}

func (t *memTx) InsertUserRoles(_ context.Context, userID int64, roleIDs []int64) error {
	set := t.st.userRoles[userID]
	if set == nil {
		set = map[int64]struct{}{}
		t.st.userRoles[userID] = set
	}
	for _, id := range roleIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (t *memTx) DeleteRolePermissions(_ context.Context, roleID int64) error {
	delete(t.st.rolePerms, roleID)
	return nil
}

func (t *memTx) InsertRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	set := t.st.rolePerms[roleID]
	if set == nil {
		set = map[int64]struct{}{}
		t.st.rolePerms[roleID] = set
	}
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (t *memTx) UpsertRole(_ context.Context, code, name string) (rbac.Role, error) {
	for id, r := range t.st.roles {
		if r.Code == code {
			r.Name = name
			t.st.roles[id] = r
			return r, nil
		}
	}
	t.st.nextID++
	r := rbac.Role{ID: t.st.nextID, Code: code, Name: name}
	t.st.roles[r.ID] = r
	return r, nil
}

func (t *memTx) UpsertPermission(_ context.Context, code, name string) (rbac.Permission, error) {
	for id, p := range t.st.permissions {
		if p.Code == code {
			p.Name = name
			t.st.permissions[id] = p
			return p, nil
		}
	}
	t.st.nextID++
	p := rbac.Permission{ID: t.st.nextID, Code: code, Name: name}
	t.st.permissions[p.ID] = p
	return p, nil
}

func permsOf(st *state, roleID int64) []rbac.Permission {
	perms := []rbac.Permission{}
	for _, id := range sortedKeys(st.rolePerms[roleID]) {
		perms = append(perms, st.permissions[id])
	}
	return perms
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func matchIDs(id, want int64, wantList []int64) bool {
	if want != 0 && id != want {
		return false
	}
	if len(wantList) == 0 {
		return true
	}
	for _, w := range wantList {
		if w == id {
			return true
		}
	}
	return false
}

func contains(value, fragment string) bool {
	return fragment == "" || strings.Contains(strings.ToLower(value), strings.ToLower(fragment))
}

func codeNameField[T any](parts func(T) (int64, string, string)) func(T, string) (string, bool) {
	return func(v T, field string) (string, bool) {
		id, code, name := parts(v)
		switch field {
		case "id":
			return fmt.Sprintf("%020d", id), true
		case "code":
			return code, true
		case "name":
			return name, true
		}
		return "", false
	}
}

func sortBy[T any](items []T, page shared.PageRequest, field func(T, string) (string, bool), id func(T) int64) error {
	var zero T
	for _, s := range page.Sort {
		if _, ok := field(zero, s.Field); !ok {
			return fmt.Errorf("%w: unsupported sort field %q", shared.ErrValidation, s.Field)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, s := range page.Sort {
			a, _ := field(items[i], s.Field)
			b, _ := field(items[j], s.Field)
			if a == b {
				continue
			}
			if s.Desc {
				return a > b
			}
			return a < b
		}
		return id(items[i]) < id(items[j])
	})
	return nil
}

func slice[T any](items []T, page shared.PageRequest) ([]T, int) {
	page = page.Normalize()
	total := len(items)
	if page.Offset >= total {
		return []T{}, total
	}
	end := page.Offset + page.Size
	if end > total {
		end = total
	}
	return append([]T{}, items[page.Offset:end]...), total
}

var _ rbac.Store = (*MemoryStore)(nil)
