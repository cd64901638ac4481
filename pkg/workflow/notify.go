package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level tells success and failure notifications apart.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// NotificationDuration is how long a notification stays on screen.
const NotificationDuration = 3 * time.Second

// Notification is a transient user-visible message.
type Notification struct {
	Level       Level
	Title       string
	Description string
}

// Notifier receives notifications. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Discard drops notifications.
var Discard Notifier = NotifierFunc(func(Notification) {})

// LogNotifier writes notifications to a logger.
func LogNotifier(l *slog.Logger) Notifier {
	return NotifierFunc(func(n Notification) {
		level := slog.LevelInfo
		if n.Level == LevelError {
			level = slog.LevelWarn
		}
		l.Log(context.Background(), level, "notification", "title", n.Title, "description", n.Description)
	})
}

// Recorder keeps every notification. Surfaces without a toast area read it.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns the recorded notifications in order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}
