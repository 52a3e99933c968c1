// ABOUTME: Test doubles for sessions, the session factory and the control room
// ABOUTME: All fakes are safe for concurrent use and record the calls they receive

package fleet

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeSession struct {
	name    string
	onError func(error)

	mu          sync.Mutex
	loginErr    error
	logoutErr   error
	activityErr error
	loginDelay  time.Duration
	loggedIn    bool
	logouts     int
	activities  []string
}

func (f *fakeSession) Login(ctx context.Context) error {
	f.mu.Lock()
	delay, err := f.loginDelay, f.loginErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.loggedIn = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.loggedIn = false
	return f.logoutErr
}

func (f *fakeSession) SetActivity(ctx context.Context, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activityErr != nil {
		return f.activityErr
	}
	f.activities = append(f.activities, status)
	return nil
}

func (f *fakeSession) Tag() string {
	return "@" + f.name + ":test"
}

func (f *fakeSession) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

func (f *fakeSession) lastActivity() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.activities) == 0 {
		return ""
	}
	return f.activities[len(f.activities)-1]
}

// fakeFactory builds fakeSessions and remembers the latest one per name.
type fakeFactory struct {
	mu         sync.Mutex
	calls      int
	sessions   map[string]*fakeSession
	loginErrs  map[string]error
	logoutErrs map[string]error
	loginDelay time.Duration
	factoryErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		sessions:   make(map[string]*fakeSession),
		loginErrs:  make(map[string]error),
		logoutErrs: make(map[string]error),
	}
}

func (f *fakeFactory) New(name, token string, onError func(error)) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.factoryErr != nil {
		return nil, f.factoryErr
	}
	s := &fakeSession{
		name:       name,
		onError:    onError,
		loginErr:   f.loginErrs[name],
		logoutErr:  f.logoutErrs[name],
		loginDelay: f.loginDelay,
	}
	f.sessions[name] = s
	return s, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) session(name string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

type fakeControl struct {
	mu          sync.Mutex
	notices     []string
	activities  []string
	topics      []string
	notifyErr   error
	activityErr error
	topicErr    error
}

func (c *fakeControl) Notify(ctx context.Context, markdown string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.notices = append(c.notices, markdown)
	return nil
}

func (c *fakeControl) SetActivity(ctx context.Context, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activityErr != nil {
		return c.activityErr
	}
	c.activities = append(c.activities, status)
	return nil
}

func (c *fakeControl) SetTopic(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topicErr != nil {
		return c.topicErr
	}
	c.topics = append(c.topics, topic)
	return nil
}

func (c *fakeControl) snapshot() (notices, activities, topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notices...),
		append([]string(nil), c.activities...),
		append([]string(nil), c.topics...)
}

func (c *fakeControl) lastTopic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.topics) == 0 {
		return ""
	}
	return c.topics[len(c.topics)-1]
}

var errBoom = errors.New("boom")
