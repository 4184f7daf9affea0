package studio

import "fmt"

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient message for the user.
type Notice struct {
	Level Level
	Text  string
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) {
	f(n)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

// notify queues a notice while s.mu is held; unlock delivers it.
func (s *Session) notify(level Level, format string, args ...any) {
	s.outbox = append(s.outbox, Notice{Level: level, Text: fmt.Sprintf(format, args...)})
}

// emit delivers a notice immediately. s.mu must not be held.
func (s *Session) emit(level Level, format string, args ...any) {
	s.notifier.Notify(Notice{Level: level, Text: fmt.Sprintf(format, args...)})
}

// unlock releases s.mu and then delivers queued notices, so a notifier may
// call back into the session.
func (s *Session) unlock() {
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, n := range out {
		s.notifier.Notify(n)
	}
}
