package ticketingtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robertarktes/event-ticketing/internal/ticketing"
)

// Files records stored blobs and hands out sequential URLs. Err, when
// set, fails every Store call.
type Files struct {
	mu    sync.Mutex
	blobs map[string][]byte
	n     int
	Err   error
}

func NewFiles() *Files {
	return &Files{blobs: map[string][]byte{}}
}

func (f *Files) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.n++
	url := fmt.Sprintf("https://files.test/%d", f.n)
	f.blobs[url] = append([]byte(nil), data...)
	return url, nil
}

func (f *Files) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

type Notifier struct {
	mu   sync.Mutex
	Sent []ticketing.Notification
	Err  error
}

func (n *Notifier) Notify(ctx context.Context, msg ticketing.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, msg)
	return nil
}

type Alerter struct {
	mu     sync.Mutex
	Alerts []ticketing.ExitAlert
	Err    error
}

func (a *Alerter) Alert(ctx context.Context, alert ticketing.ExitAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, alert)
	return a.Err
}

// Locker is a process-local ticketing.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocker() *Locker {
	return &Locker{held: map[string]time.Time{}}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	l.held[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
