package subscription

import (
	"fmt"
	"time"

	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/retry"
)

// RoleProfile is what differs between the coach and client push setups.
type RoleProfile struct {
	Role models.UserType
	// APIPrefix is the role-scoped path of the push API.
	APIPrefix string
	// HasStatus enables the server cross-check in CheckSubscription.
	HasStatus bool
	Persist   retry.Policy
}

func CoachProfile() RoleProfile {
	return RoleProfile{
		Role:      models.UserTypeCoach,
		APIPrefix: "/api/coach/push",
		HasStatus: true,
		Persist:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Second},
	}
}

func ClientProfile() RoleProfile {
	return RoleProfile{
		Role:      models.UserTypeClient,
		APIPrefix: "/api/client/push",
		Persist:   retry.Policy{MaxAttempts: 1},
	}
}

func ProfileFor(role models.UserType) (RoleProfile, error) {
	switch role {
	case models.UserTypeCoach:
		return CoachProfile(), nil
	case models.UserTypeClient:
		return ClientProfile(), nil
	default:
		return RoleProfile{}, fmt.Errorf("no push profile for role %q", role)
	}
}
