package loopguard

import "sync"

// Locks is a set of record ids currently being synced in one direction.
type Locks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewLocks() *Locks {
	return &Locks{active: map[string]struct{}{}}
}

// TryAcquire marks id as in flight. When id is already held it returns
// ok=false and the caller must drop the trigger. The returned release is
// idempotent and must be called on every exit path.
func (l *Locks) TryAcquire(id string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[id]; held {
		return func() {}, false
	}
	l.active[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, id)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether id is currently locked.
func (l *Locks) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[id]
	return held
}

// State bundles the loop guard with one lock set per direction. It is owned
// by the process and shared by both sync engines.
type State struct {
	Guard   *Guard
	Forward *Locks
	Reverse *Locks
}

func NewState(opts ...GuardOption) *State {
	return &State{
		Guard:   NewGuard(opts...),
		Forward: NewLocks(),
		Reverse: NewLocks(),
	}
}
