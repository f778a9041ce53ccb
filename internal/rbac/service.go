package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/unidesk/unidesk/internal/audit"
	"github.com/unidesk/unidesk/internal/shared"
)

const batchCheckConcurrency = 8

// Service orchestrates RBAC checks and role lifecycle operations.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	grants singleflight.Group
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// HasPermission reports whether the admin user holds key. Storage errors deny.
func (s *Service) HasPermission(ctx context.Context, userID int64, key PermissionKey) bool {
	ok, _, err := s.check(ctx, s.store, userID, key, true)
	if err != nil {
		s.logger.Error("rbac permission check failed",
			slog.Int64("user_id", userID),
			slog.String("permission", key.String()),
			slog.Any("error", err))
		return false
	}
	return ok
}

// CheckMultiplePermissions evaluates every key independently; the result always has one
// entry per key.
func (s *Service) CheckMultiplePermissions(ctx context.Context, userID int64, keys []PermissionKey) map[string]bool {
	result := make(map[string]bool, len(keys))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchCheckConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			ok := s.HasPermission(gctx, userID, key)
			mu.Lock()
			result[key.String()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// EffectivePermissions resolves the full permission set of a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (EffectiveSet, error) {
	set := EffectiveSet{UserID: userID, Permissions: []string{}, Roles: []string{}}
	super, err := s.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return set, err
	}
	if super {
		set.Universal = true
		perms, err := s.store.ListPermissions(ctx)
		if err != nil {
			return set, err
		}
		for _, p := range perms {
			set.Permissions = append(set.Permissions, p.Key().String())
		}
		return set, nil
	}

	grants, err := s.loadGrants(ctx, s.store, userID, true)
	if err != nil {
		return set, err
	}
	perms := make(map[string]struct{}, len(grants))
	roles := make(map[string]struct{})
	for _, g := range grants {
		perms[g.Key().String()] = struct{}{}
		roles[g.RoleName] = struct{}{}
	}
	for p := range perms {
		set.Permissions = append(set.Permissions, p)
	}
	for r := range roles {
		set.Roles = append(set.Roles, r)
	}
	sort.Strings(set.Permissions)
	sort.Strings(set.Roles)
	return set, nil
}

// CanAccessDepartment reports whether the user is a super admin or belongs to department.
func (s *Service) CanAccessDepartment(ctx context.Context, userID int64, department shared.Department) bool {
	user, err := s.store.GetAdminUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("rbac department check failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return false
	}
	if !user.IsActive {
		return false
	}
	if user.IsSuperAdmin {
		return true
	}
	return user.Department != "" && user.Department == department
}

// Authorize requires key for an authenticated admin actor.
func (s *Service) Authorize(ctx context.Context, actor *shared.Actor, key PermissionKey) (audit.Decision, error) {
	return s.AuthorizeAny(ctx, actor, key)
}

// AuthorizeAny grants when at least one key is held.
func (s *Service) AuthorizeAny(ctx context.Context, actor *shared.Actor, keys ...PermissionKey) (audit.Decision, error) {
	if actor == nil {
		return audit.Decision{}, errUnauthenticated()
	}
	if len(keys) == 0 {
		return audit.Decision{}, errors.New("rbac: no permission requested")
	}
	if actor.IsAdmin() {
		for _, key := range keys {
			ok, path, err := s.check(ctx, s.store, actor.ID, key, true)
			if err != nil {
				s.logger.Error("rbac authorize failed", slog.Int64("user_id", actor.ID), slog.String("permission", key.String()), slog.Any("error", err))
				break
			}
			if ok {
				return s.decision(key, actor.ID, true, path), nil
			}
		}
	}
	return s.decision(keys[0], actor.ID, false, audit.PathDenied), errForbidden(keys...)
}

// AuthorizeAll grants only when every key is held, returning one decision per key.
func (s *Service) AuthorizeAll(ctx context.Context, actor *shared.Actor, keys ...PermissionKey) ([]audit.Decision, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	decisions := make([]audit.Decision, 0, len(keys))
	for _, key := range keys {
		d, err := s.AuthorizeAny(ctx, actor, key)
		decisions = append(decisions, d)
		if err != nil {
			return decisions, errForbidden(keys...)
		}
	}
	return decisions, nil
}

// AuthorizeSuperAdmin requires the stored super-admin flag.
func (s *Service) AuthorizeSuperAdmin(ctx context.Context, actor *shared.Actor) (audit.Decision, error) {
	if actor == nil {
		return audit.Decision{}, errUnauthenticated()
	}
	if actor.IsAdmin() {
		super, err := s.store.IsSuperAdmin(ctx, actor.ID)
		if err != nil {
			s.logger.Error("rbac super admin check failed", slog.Int64("user_id", actor.ID), slog.Any("error", err))
		} else if super {
			return s.decision(SuperAdminKey, actor.ID, true, audit.PathSuperAdmin), nil
		}
	}
	return s.decision(SuperAdminKey, actor.ID, false, audit.PathDenied),
		shared.Reject(shared.ErrForbidden, "Super admin access required", map[string]any{"requiredPermission": SuperAdminKey.String()})
}

// AuthorizeDepartment requires key and, unless super admin, membership of department.
func (s *Service) AuthorizeDepartment(ctx context.Context, actor *shared.Actor, key PermissionKey, department shared.Department) (audit.Decision, error) {
	d, err := s.AuthorizeAny(ctx, actor, key)
	if err != nil {
		return d, err
	}
	if d.Path == audit.PathSuperAdmin {
		return d, nil
	}
	if !s.CanAccessDepartment(ctx, actor.ID, department) {
		return s.decision(key, actor.ID, false, audit.PathDenied), shared.Reject(shared.ErrForbidden, "Access to this department is not allowed", map[string]any{
			"requiredPermission": key.String(),
			"department":         string(department),
		})
	}
	return s.decision(key, actor.ID, true, audit.PathDepartment), nil
}

// AuthorizeOwnerOr grants when key is held, otherwise when the actor owns the row
// identified by resourceID under target. A missing row is reported as not found.
func (s *Service) AuthorizeOwnerOr(ctx context.Context, actor *shared.Actor, key PermissionKey, target OwnershipTarget, resourceID int64) (audit.Decision, error) {
	if actor == nil {
		return audit.Decision{}, errUnauthenticated()
	}
	if actor.IsAdmin() {
		ok, path, err := s.check(ctx, s.store, actor.ID, key, true)
		if err != nil {
			s.logger.Error("rbac authorize failed", slog.Int64("user_id", actor.ID), slog.String("permission", key.String()), slog.Any("error", err))
		} else if ok {
			return s.decision(key, actor.ID, true, path), nil
		}
	}
	owned, err := s.owns(ctx, actor, key, target, resourceID)
	if err != nil {
		return s.decision(key, actor.ID, false, audit.PathDenied), err
	}
	if owned {
		return s.decision(key, actor.ID, true, audit.PathOwnership), nil
	}
	return s.decision(key, actor.ID, false, audit.PathDenied), errForbidden(key)
}

// AuthorizeDepartmentOrOwner grants admins holding key within department, otherwise
// any actor owning resourceID under one of targets. The department refusal is
// returned when nothing grants.
func (s *Service) AuthorizeDepartmentOrOwner(ctx context.Context, actor *shared.Actor, key PermissionKey, department shared.Department, resourceID int64, targets ...OwnershipTarget) (audit.Decision, error) {
	if actor == nil {
		return audit.Decision{}, errUnauthenticated()
	}
	denied := errForbidden(key)
	if actor.IsAdmin() {
		d, err := s.AuthorizeDepartment(ctx, actor, key, department)
		if err == nil {
			return d, nil
		}
		denied = err
	}
	for _, target := range targets {
		owned, err := s.owns(ctx, actor, key, target, resourceID)
		if err != nil {
			return s.decision(key, actor.ID, false, audit.PathDenied), err
		}
		if owned {
			return s.decision(key, actor.ID, true, audit.PathOwnership), nil
		}
	}
	return s.decision(key, actor.ID, false, audit.PathDenied), denied
}

// owns resolves the owner of resourceID under target and compares it with actor.
func (s *Service) owns(ctx context.Context, actor *shared.Actor, key PermissionKey, target OwnershipTarget, resourceID int64) (bool, error) {
	spec, ok := target.spec()
	if !ok {
		s.logger.Error("rbac unknown ownership target", slog.Int("target", int(target)))
		return false, errForbidden(key)
	}
	owner, err := s.store.ResourceOwner(ctx, target, resourceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, shared.Reject(shared.ErrNotFound, "Resource not found", nil)
		}
		s.logger.Error("rbac ownership lookup failed", slog.String("target", target.String()), slog.Int64("resource_id", resourceID), slog.Any("error", err))
		return false, errForbidden(key)
	}
	return spec.OwnerKind == actor.Kind && owner != 0 && owner == actor.ID, nil
}

// check evaluates key against r. collapse enables singleflight for grant loads and must be
// false inside a transaction.
func (s *Service) check(ctx context.Context, r Reader, userID int64, key PermissionKey, collapse bool) (bool, audit.Path, error) {
	if !key.Valid() {
		return false, audit.PathDenied, nil
	}
	super, err := r.IsSuperAdmin(ctx, userID)
	if err != nil {
		return false, audit.PathDenied, err
	}
	if super {
		return true, audit.PathSuperAdmin, nil
	}
	grants, err := s.loadGrants(ctx, r, userID, collapse)
	if err != nil {
		return false, audit.PathDenied, err
	}
	for _, g := range grants {
		if g.Resource == key.Resource && g.Action == key.Action {
			return true, audit.PathPermission, nil
		}
	}
	return false, audit.PathDenied, nil
}

func (s *Service) loadGrants(ctx context.Context, r Reader, userID int64, collapse bool) ([]Grant, error) {
	if !collapse {
		return r.ListEffectiveGrants(ctx, userID, s.now())
	}
	// Shared by every waiter, so one caller's cancellation must not fail the rest.
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.grants.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		return r.ListEffectiveGrants(detached, userID, s.now())
	})
	if err != nil {
		return nil, err
	}
	grants, _ := v.([]Grant)
	return grants, nil
}

func (s *Service) decision(key PermissionKey, actorID int64, granted bool, path audit.Path) audit.Decision {
	return audit.NewDecision(key.Resource, key.Action, actorID, granted, path, s.now())
}

func errUnauthenticated() error {
	return shared.Reject(shared.ErrUnauthenticated, "Authentication required", nil)
}

func errForbidden(keys ...PermissionKey) error {
	fields := map[string]any{}
	switch len(keys) {
	case 0:
	case 1:
		fields["requiredPermission"] = keys[0].String()
	default:
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, k.String())
		}
		fields["requiredPermission"] = names[0]
		fields["requiredPermissions"] = names
	}
	return shared.Reject(shared.ErrForbidden, "Insufficient permissions", fields)
}
