package useragent

import "errors"

var (
	ErrNotRegistered        = errors.New("no worker registered for scope")
	ErrUserVisibleOnly      = errors.New("push subscriptions must be user visible")
	ErrInvalidServerKey     = errors.New("invalid application server key")
	ErrKeyMismatch          = errors.New("subscription exists with a different application server key")
	ErrPushUnavailable      = errors.New("push service not configured")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPromptUnavailable    = errors.New("permission prompt unavailable")
)
