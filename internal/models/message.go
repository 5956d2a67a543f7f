package models

// Message types exchanged between pages and the worker.
const (
	MessageTypeNotificationClick = "NOTIFICATION_CLICK"
	MessageTypeSkipWaiting       = "SKIP_WAITING"
	MessageTypeNavigated         = "NAVIGATED"
	MessageTypeFocus             = "FOCUS"
	MessageTypePing              = "ping"
)

// ClickMessage is posted to a focused page so it can navigate client-side.
type ClickMessage struct {
	Type             string           `json:"type"`
	URL              string           `json:"url"`
	NotificationType NotificationType `json:"notificationType"`
	Data             NotificationData `json:"data"`
}

// PageMessage is any frame a page sends to the worker.
type PageMessage struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}
