package domain

import (
	"time"

	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
)

// ToggleStatus disables an enabled or expired account and re-enables a
// disabled one, landing on expired when its expiry has already passed.
func ToggleStatus(u tenantdomain.TenantUser, now time.Time) tenantdomain.TenantUserStatus {
	if u.Status == tenantdomain.TenantUserStatusDisabled {
		return enabledAt(u.AccountExpiredAt, now)
	}
	return tenantdomain.TenantUserStatusDisabled
}

// TargetStatus resolves the status a batch update to target produces.
// Only enabled and disabled can be requested.
func TargetStatus(u tenantdomain.TenantUser, target tenantdomain.TenantUserStatus, now time.Time) (tenantdomain.TenantUserStatus, error) {
	switch target {
	case tenantdomain.TenantUserStatusDisabled:
		return target, nil
	case tenantdomain.TenantUserStatusEnabled:
		return enabledAt(u.AccountExpiredAt, now), nil
	}
	return "", ErrInvalidStatus
}

// StatusAfterExpiry is the status once the expiry moves to expiredAt.
// Only an expired account changes: it is enabled again when expiredAt lies
// ahead. Enabled accounts past their new expiry are left to the sweeper.
func StatusAfterExpiry(u tenantdomain.TenantUser, expiredAt, now time.Time) tenantdomain.TenantUserStatus {
	if u.Status == tenantdomain.TenantUserStatusExpired {
		return enabledAt(expiredAt, now)
	}
	return u.Status
}

func enabledAt(expiredAt, now time.Time) tenantdomain.TenantUserStatus {
	if now.After(expiredAt) {
		return tenantdomain.TenantUserStatusExpired
	}
	return tenantdomain.TenantUserStatusEnabled
}
