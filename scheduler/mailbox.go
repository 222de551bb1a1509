package scheduler

import (
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Mailbox carries queue mutations from request handlers to the reconciliation loop.
// A replacement proposal overwrites the previous one; only the last proposal seen at drain time is applied.
type Mailbox struct {
	mutex       sync.Mutex
	replacement *[]string
	appended    []string

	wake chan any
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		wake: make(chan any, 1),
	}
}

// Propose replaces the whole pending queue with the given newline-separated text.
// Commands enqueued before the proposal are discarded.
// This function is safe to call from multiple goroutines
func (m *Mailbox) Propose(text string) {
	pending := ParseQueue(text)

	m.mutex.Lock()
	m.replacement = &pending
	m.appended = nil
	m.mutex.Unlock()

	m.notify()
}

// Enqueue adds commands at the end of the pending queue.
// This function is safe to call from multiple goroutines
func (m *Mailbox) Enqueue(commands ...string) {
	commands = lo.Filter(commands, func(command string, _ int) bool {
		return strings.TrimSpace(command) != ""
	})
	if len(commands) == 0 {
		return
	}

	m.mutex.Lock()
	m.appended = append(m.appended, commands...)
	m.mutex.Unlock()

	m.notify()
}

// Drain empties the mailbox. replacement is nil when no proposal was made since the last drain.
func (m *Mailbox) Drain() (replacement *[]string, appended []string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	replacement, appended = m.replacement, m.appended
	m.replacement, m.appended = nil, nil
	return replacement, appended
}

// Wake is signaled after every write
func (m *Mailbox) Wake() <-chan any {
	return m.wake
}

func (m *Mailbox) notify() {
	select {
	case m.wake <- nil:
	default:
	}
}

// ParseQueue splits a pending queue text into commands, dropping empty lines.
func ParseQueue(text string) []string {
	lines := lo.Map(strings.Split(text, "\n"), func(line string, _ int) string {
		return strings.TrimSuffix(line, "\r")
	})
	return lo.Filter(lines, func(line string, _ int) bool {
		return line != ""
	})
}

// FormatQueue is the inverse of ParseQueue.
func FormatQueue(pending []string) string {
	return strings.Join(pending, "\n")
}
