package models

type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// PushSubscriptionState is a point-in-time snapshot computed by the subscription
// manager. It caches what the platform and server said last; it is not the
// system of record.
type PushSubscriptionState struct {
	IsSupported  bool `json:"isSupported"`
	IsSubscribed bool `json:"isSubscribed"`
	// Permission is nil until permission has been probed.
	Permission *PermissionState `json:"permission"`
	IsLoading  bool             `json:"isLoading"`
}

func PermissionPtr(p PermissionState) *PermissionState {
	return &p
}
