package checkpointer

import (
	"sync"
	"time"

	"github.com/espina-project/slicecache/pkg/volume"
)

// Session is the viewer state restored on the next start.
type Session struct {
	VolumeID     string
	Axis         volume.Axis
	Position     int
	WindowRadius int
	UpdatedAt    time.Time
}

// State is the latest session, written from the loop goroutine and read by
// Start. It is safe for concurrent use.
type State struct {
	mu      sync.Mutex
	session Session
	dirty   bool
}

// NewState starts from a session that is already persisted (or not worth
// persisting), so nothing is written until the first Set.
func NewState(s Session) *State {
	return &State{session: s}
}

// Set records s; it is written by the next checkpoint if it differs from the
// current session.
func (st *State) Set(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s.UpdatedAt = st.session.UpdatedAt
	if s == st.session {
		return
	}
	st.session = s
	st.dirty = true
}

func (st *State) Get() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session
}

// take returns the session and clears the dirty flag.
func (st *State) take() (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	dirty := st.dirty
	st.dirty = false
	return st.session, dirty
}

// restore marks s dirty again after an interrupted write, unless a newer
// session was set meanwhile.
func (st *State) restore(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session == s {
		st.dirty = true
	}
}
