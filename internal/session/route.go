package session

import (
	"errors"
	"fmt"

	"github.com/hitoshi/careportal/internal/model"
)

// FallbackRoute は未知のロールでログインした場合の遷移先。
const FallbackRoute = "/unauthorized"

// ErrUnknownRole はロールに対応する遷移先が定義されていないことを表す。
var ErrUnknownRole = errors.New("session: unknown role")

var landingRoutes = map[model.Role]string{
	model.RoleAdmin:   "/admin/dashboard",
	model.RoleDoctor:  "/doctor/dashboard",
	model.RolePatient: "/patient/dashboard",
}

// LandingRoute はログイン後の遷移先をロールから決定する。
// 未知のロールの場合はFallbackRouteとErrUnknownRoleを返す。
func LandingRoute(role model.Role) (string, error) {
	if path, ok := landingRoutes[role]; ok {
		return path, nil
	}
	return FallbackRoute, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}
