// Package state holds the observable session state: tokens, the user
// profile and the loading flags a UI renders from.
//
// Writes may come from any goroutine. Each write that changes a value queues
// exactly one event; writes of the current value are dropped. Observers are
// called from a single dispatcher goroutine in write order.
package state

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/aussiebroadwan/hostedauth/internal/domain"
	"github.com/aussiebroadwan/hostedauth/pkg/authsdk"
	"github.com/aussiebroadwan/hostedauth/pkg/idx"
)

// Snapshot is an immutable copy of the session state. Empty token strings
// mean absent. User is only set while IsAuthenticated.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	User         *authsdk.UserProfile

	IsAuthenticated       bool
	IsLoading             bool
	Initializing          bool
	WebLoading            bool
	RefreshingToken       bool
	IsStepUpAuthorization bool

	SelectedRegion *domain.RegionConfig
}

// ShowLoader is true while starting up, or while a login is in progress.
func (s Snapshot) ShowLoader() bool {
	return s.Initializing || (!s.IsAuthenticated && s.IsLoading)
}

// Equal reports field-by-field equality; User and SelectedRegion compare by
// value.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.AccessToken == o.AccessToken &&
		s.RefreshToken == o.RefreshToken &&
		s.User.Equal(o.User) &&
		s.IsAuthenticated == o.IsAuthenticated &&
		s.IsLoading == o.IsLoading &&
		s.Initializing == o.Initializing &&
		s.WebLoading == o.WebLoading &&
		s.RefreshingToken == o.RefreshingToken &&
		s.IsStepUpAuthorization == o.IsStepUpAuthorization &&
		equalRegion(s.SelectedRegion, o.SelectedRegion)
}

func equalRegion(a, b *domain.RegionConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// LoggedOut returns s with every credential and user field cleared. Region
// and web loading are kept.
func (s Snapshot) LoggedOut() Snapshot {
	s.AccessToken = ""
	s.RefreshToken = ""
	s.User = nil
	s.IsAuthenticated = false
	s.IsLoading = false
	s.Initializing = false
	s.RefreshingToken = false
	s.IsStepUpAuthorization = false
	return s
}

// Observer receives every state change.
type Observer func(Snapshot)

type subscriber struct {
	id idx.ID
	fn Observer
}

type event struct {
	snap    Snapshot
	target  idx.ID        // zero delivers to everyone
	barrier chan struct{} // closed instead of delivering
}

// Session is the single source of truth for authentication status.
type Session struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	cur    Snapshot
	subs   []subscriber
	queue  []event
	closed bool
	done   chan struct{}
}

// New returns a Session in the initializing state and starts its dispatcher.
func New(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		logger: logger,
		cur:    Snapshot{Initializing: true, IsLoading: true},
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.run()
	return s
}

// Get returns the current state.
func (s *Session) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies fn to a copy of the current state and publishes the result
// as one event if anything changed. It reports whether it did.
func (s *Session) Update(fn func(*Snapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	fn(&next)
	if !next.IsAuthenticated {
		next.User = nil
	}

	if next.Equal(s.cur) {
		return false
	}

	s.cur = next
	s.enqueueLocked(event{snap: next})
	return true
}

func (s *Session) SetAccessToken(v string) bool {
	return s.Update(func(st *Snapshot) { st.AccessToken = v })
}

func (s *Session) SetRefreshToken(v string) bool {
	return s.Update(func(st *Snapshot) { st.RefreshToken = v })
}

// SetUser has no effect unless the session is authenticated.
func (s *Session) SetUser(v *authsdk.UserProfile) bool {
	return s.Update(func(st *Snapshot) { st.User = v })
}

func (s *Session) SetAuthenticated(v bool) bool {
	return s.Update(func(st *Snapshot) { st.IsAuthenticated = v })
}

func (s *Session) SetLoading(v bool) bool {
	return s.Update(func(st *Snapshot) { st.IsLoading = v })
}

func (s *Session) SetInitializing(v bool) bool {
	return s.Update(func(st *Snapshot) { st.Initializing = v })
}

func (s *Session) SetWebLoading(v bool) bool {
	return s.Update(func(st *Snapshot) { st.WebLoading = v })
}

func (s *Session) SetRefreshingToken(v bool) bool {
	return s.Update(func(st *Snapshot) { st.RefreshingToken = v })
}

func (s *Session) SetStepUpAuthorization(v bool) bool {
	return s.Update(func(st *Snapshot) { st.IsStepUpAuthorization = v })
}

func (s *Session) SetSelectedRegion(v *domain.RegionConfig) bool {
	return s.Update(func(st *Snapshot) { st.SelectedRegion = v })
}

// Subscribe registers fn. It is called first with the current state, then
// with every change. The returned func unsubscribes.
func (s *Session) Subscribe(fn Observer) (idx.ID, func()) {
	id := idx.New()

	s.mu.Lock()
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.enqueueLocked(event{snap: s.cur, target: id})
	s.mu.Unlock()

	return id, func() { s.Unsubscribe(id) }
}

// Unsubscribe removes the observer registered under id. An event already
// being delivered may still reach it.
func (s *Session) Unsubscribe(id idx.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
}

// Sync blocks until every event queued before the call has been delivered.
func (s *Session) Sync() {
	barrier := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.enqueueLocked(event{barrier: barrier})
	s.mu.Unlock()

	<-barrier
}

// Close delivers the queued events and stops the dispatcher. Writes after
// Close update the state but notify nobody.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()

	<-s.done
}

func (s *Session) enqueueLocked(ev event) {
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *Session) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		ev := s.queue[0]
		s.queue[0] = event{}
		s.queue = s.queue[1:]

		var targets []subscriber
		if ev.barrier == nil {
			for _, sub := range s.subs {
				if ev.target.IsZero() || sub.id == ev.target {
					targets = append(targets, sub)
				}
			}
		}
		s.mu.Unlock()

		if ev.barrier != nil {
			close(ev.barrier)
			continue
		}

		for _, sub := range targets {
			s.deliver(sub, ev.snap)
		}
	}
}

func (s *Session) deliver(sub subscriber, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session observer panicked", "subscriber", sub.id, "panic", r)
		}
	}()
	sub.fn(snap)
}
