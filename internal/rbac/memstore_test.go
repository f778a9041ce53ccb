package rbac

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/unidesk/unidesk/internal/shared"
)

type bindingKey struct{ roleID, permID int64 }

type assignmentKey struct{ userID, roleID int64 }

type memState struct {
	users       map[int64]AdminUser
	roles       map[int64]Role
	perms       map[int64]Permission
	bindings    map[bindingKey]int64
	assignments map[assignmentKey]Assignment
	owners      map[OwnershipTarget]map[int64]int64
	nextID      int64
}

func (s memState) clone() memState {
	out := memState{
		users:       maps.Clone(s.users),
		roles:       maps.Clone(s.roles),
		perms:       maps.Clone(s.perms),
		bindings:    maps.Clone(s.bindings),
		assignments: maps.Clone(s.assignments),
		owners:      make(map[OwnershipTarget]map[int64]int64, len(s.owners)),
		nextID:      s.nextID,
	}
	for k, v := range s.owners {
		out.owners[k] = maps.Clone(v)
	}
	return out
}

// memStore is an in-memory Store. WithTx snapshots the state and restores it when fn fails.
type memStore struct {
	mu         sync.Mutex
	state      memState
	failGrants error
	failSuper  error
	grantCalls int
	txCount    int
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		users:       map[int64]AdminUser{},
		roles:       map[int64]Role{},
		perms:       map[int64]Permission{},
		bindings:    map[bindingKey]int64{},
		assignments: map[assignmentKey]Assignment{},
		owners:      map[OwnershipTarget]map[int64]int64{},
		nextID:      100,
	}}
}

func (m *memStore) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

func (m *memStore) addUser(u AdminUser) AdminUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.IsActive = true
	m.state.users[u.ID] = u
	return u
}

func (m *memStore) addRole(name string, system bool, perms ...PermissionKey) Role {
	role, _ := m.InsertRole(context.Background(), Role{Name: name, DisplayName: name, IsSystemRole: system, IsActive: true})
	for _, key := range perms {
		p, err := m.GetPermissionByKey(context.Background(), key)
		if err != nil {
			p, _ = m.InsertPermission(context.Background(), Permission{Resource: key.Resource, Action: key.Action, Name: key.String()})
		}
		_ = m.BindPermission(context.Background(), role.ID, p.ID, 0)
	}
	return role
}

func (m *memStore) assign(userID, roleID int64, expiresAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.assignments[assignmentKey{userID, roleID}] = Assignment{UserID: userID, RoleID: roleID, IsActive: true, ExpiresAt: expiresAt, AssignedAt: time.Now()}
}

func (m *memStore) setOwner(target OwnershipTarget, resourceID, owner int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.owners[target] == nil {
		m.state.owners[target] = map[int64]int64{}
	}
	m.state.owners[target][resourceID] = owner
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	snapshot := m.state.clone()
	m.txCount++
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSuper != nil {
		return false, m.failSuper
	}
	u, ok := m.state.users[userID]
	return ok && u.IsActive && u.IsSuperAdmin, nil
}

func (m *memStore) ListEffectiveGrants(ctx context.Context, userID int64, now time.Time) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantCalls++
	if m.failGrants != nil {
		return nil, m.failGrants
	}
	if u, ok := m.state.users[userID]; !ok || !u.IsActive {
		return nil, nil
	}
	var out []Grant
	for key, a := range m.state.assignments {
		if key.userID != userID || !a.IsEffective(now) {
			continue
		}
		role := m.state.roles[key.roleID]
		if !role.IsActive {
			continue
		}
		for b := range m.state.bindings {
			if b.roleID != role.ID {
				continue
			}
			p := m.state.perms[b.permID]
			out = append(out, Grant{Resource: p.Resource, Action: p.Action, RoleName: role.Name})
		}
	}
	return out, nil
}

func (m *memStore) GetAdminUser(ctx context.Context, userID int64) (AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[userID]
	if !ok {
		return AdminUser{}, shared.ErrNotFound
	}
	return u, nil
}

func (m *memStore) ResourceOwner(ctx context.Context, target OwnershipTarget, resourceID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.state.owners[target][resourceID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return owner, nil
}

func (m *memStore) ListRoles(ctx context.Context, includeInactive bool) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.state.roles {
		if r.IsActive || includeInactive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetRole(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (m *memStore) InsertRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role.ID = m.id()
	m.state.roles[role.ID] = role
	return role, nil
}

func (m *memStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.roles[role.ID]; !ok {
		return Role{}, shared.ErrNotFound
	}
	m.state.roles[role.ID] = role
	return role, nil
}

func (m *memStore) DeactivateRole(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.roles[id]
	if !ok {
		return shared.ErrNotFound
	}
	r.IsActive = false
	m.state.roles[id] = r
	return nil
}

func (m *memStore) DeleteRole(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.state.roles, id)
	for b := range m.state.bindings {
		if b.roleID == id {
			delete(m.state.bindings, b)
		}
	}
	return nil
}

func (m *memStore) CountRoleUsage(ctx context.Context, id int64, now time.Time) (RoleUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u RoleUsage
	for k, a := range m.state.assignments {
		if k.roleID != id {
			continue
		}
		u.Assignments++
		if a.IsEffective(now) {
			u.ActiveAssignments++
		}
	}
	for b := range m.state.bindings {
		if b.roleID == id {
			u.Bindings++
		}
	}
	return u, nil
}

func (m *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.state.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (m *memStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPermissionByKey(ctx context.Context, key PermissionKey) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.perms {
		if p.Key() == key {
			return p, nil
		}
	}
	return Permission{}, shared.ErrNotFound
}

func (m *memStore) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.perms {
		if p.Key() == perm.Key() {
			return Permission{}, shared.ErrConflict
		}
	}
	perm.ID = m.id()
	m.state.perms[perm.ID] = perm
	return perm, nil
}

func (m *memStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.perms[perm.ID]; !ok {
		return Permission{}, shared.ErrNotFound
	}
	m.state.perms[perm.ID] = perm
	return perm, nil
}

func (m *memStore) DeletePermission(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.perms[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.state.perms, id)
	for b := range m.state.bindings {
		if b.permID == id {
			delete(m.state.bindings, b)
		}
	}
	return nil
}

func (m *memStore) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for b := range m.state.bindings {
		if b.roleID == roleID {
			out = append(out, m.state.perms[b.permID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (m *memStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for b := range m.state.bindings {
		if b.roleID == roleID {
			delete(m.state.bindings, b)
		}
	}
	for _, pid := range permissionIDs {
		if _, ok := m.state.perms[pid]; !ok {
			return errors.New("fk violation")
		}
		m.state.bindings[bindingKey{roleID, pid}] = grantedBy
	}
	return nil
}

func (m *memStore) BindPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.bindings[bindingKey{roleID, permissionID}]; !ok {
		m.state.bindings[bindingKey{roleID, permissionID}] = grantedBy
	}
	return nil
}

func (m *memStore) GetAssignment(ctx context.Context, userID, roleID int64) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.assignments[assignmentKey{userID, roleID}]
	if !ok {
		return Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (m *memStore) InsertAssignment(ctx context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{a.UserID, a.RoleID}
	if _, ok := m.state.assignments[key]; ok {
		return shared.ErrConflict
	}
	m.state.assignments[key] = a
	return nil
}

func (m *memStore) ReactivateAssignment(ctx context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{a.UserID, a.RoleID}
	if _, ok := m.state.assignments[key]; !ok {
		return shared.ErrNotFound
	}
	a.IsActive = true
	m.state.assignments[key] = a
	return nil
}

func (m *memStore) DeactivateAssignment(ctx context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{userID, roleID}
	a, ok := m.state.assignments[key]
	if !ok {
		return shared.ErrNotFound
	}
	a.IsActive = false
	m.state.assignments[key] = a
	return nil
}

func (m *memStore) ListUserAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for k, a := range m.state.assignments {
		if k.userID == userID {
			a.RoleName = m.state.roles[k.roleID].Name
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (m *memStore) DeactivateExpiredAssignments(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, a := range m.state.assignments {
		if a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			a.IsActive = false
			m.state.assignments[k] = a
			n++
		}
	}
	return n, nil
}

var _ Store = (*memStore)(nil)
