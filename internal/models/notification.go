package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type NotificationType string

const (
	NotificationTypeMessage      NotificationType = "message"
	NotificationTypePlanAssigned NotificationType = "plan_assigned"
	NotificationTypeTest         NotificationType = "test"
	NotificationTypeReminder     NotificationType = "reminder"
	NotificationTypeGoalUpdate   NotificationType = "goal_update"
	NotificationTypeDefault      NotificationType = "default"
)

// ParseNotificationType maps any producer value onto the known set.
// Unknown or empty values become NotificationTypeDefault.
func ParseNotificationType(s string) NotificationType {
	switch t := NotificationType(s); t {
	case NotificationTypeMessage,
		NotificationTypePlanAssigned,
		NotificationTypeTest,
		NotificationTypeReminder,
		NotificationTypeGoalUpdate:
		return t
	default:
		return NotificationTypeDefault
	}
}

type UserType string

const (
	UserTypeCoach  UserType = "coach"
	UserTypeClient UserType = "client"
)

func ParseUserType(s string) (UserType, error) {
	switch u := UserType(s); u {
	case UserTypeCoach, UserTypeClient:
		return u, nil
	default:
		return "", fmt.Errorf("unknown user type %q", s)
	}
}

// NotificationData is the data object carried by a notification. Known keys are
// lifted into fields; everything else stays in Extra and survives a round trip.
type NotificationData struct {
	Type     NotificationType
	URL      string
	ClientID string
	UserType UserType
	Extra    map[string]any
}

const (
	dataKeyType     = "type"
	dataKeyURL      = "url"
	dataKeyClientID = "clientId"
	dataKeyUserType = "userType"
)

// DataFromMap builds NotificationData from a decoded JSON object. Values of the
// wrong JSON type for a known key are ignored instead of failing.
func DataFromMap(m map[string]any) NotificationData {
	d := NotificationData{Type: NotificationTypeDefault}
	for k, v := range m {
		switch k {
		case dataKeyType:
			if s, ok := v.(string); ok {
				d.Type = ParseNotificationType(s)
			}
		case dataKeyURL:
			if s, ok := v.(string); ok {
				d.URL = s
			}
		case dataKeyClientID:
			d.ClientID = scalarString(v)
		case dataKeyUserType:
			if s, ok := v.(string); ok {
				d.UserType = UserType(s)
			}
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[k] = v
		}
	}
	return d
}

// Map is the inverse of DataFromMap. Empty optional fields are omitted.
func (d NotificationData) Map() map[string]any {
	m := make(map[string]any, len(d.Extra)+4)
	for k, v := range d.Extra {
		m[k] = v
	}
	m[dataKeyType] = string(d.Type)
	if d.URL != "" {
		m[dataKeyURL] = d.URL
	}
	if d.ClientID != "" {
		m[dataKeyClientID] = d.ClientID
	}
	if d.UserType != "" {
		m[dataKeyUserType] = string(d.UserType)
	}
	return m
}

func (d NotificationData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

func (d *NotificationData) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*d = DataFromMap(m)
	return nil
}

// scalarString renders ids that producers send either as strings or numbers.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// CanonicalNotification is the normalized shape the worker operates on.
type CanonicalNotification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Icon  string           `json:"icon"`
	Badge string           `json:"badge"`
	Tag   string           `json:"tag"`
	Data  NotificationData `json:"data"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// NotificationOptions is the presentation handed to the host's show primitive.
type NotificationOptions struct {
	Body               string           `json:"body"`
	Icon               string           `json:"icon,omitempty"`
	Badge              string           `json:"badge,omitempty"`
	Tag                string           `json:"tag,omitempty"`
	Data               NotificationData `json:"data"`
	Actions            []Action         `json:"actions,omitempty"`
	RequireInteraction bool             `json:"requireInteraction"`
	Vibrate            []int            `json:"vibrate,omitempty"`
}
