package domain

import "time"

// NoticeLevel classifies a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient user-facing notification (toast-style). Transport
// failures and rate-limit rejections travel here; the visible conversation
// only ever gets a synthetic fallback message.
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier fans notices out to attached surfaces. Each Subscribe call gets
// its own channel; callers must Unsubscribe when done.
type Notifier interface {
	Publish(n Notice)
	Subscribe() <-chan Notice
	Unsubscribe(ch <-chan Notice)
	Close()
}
