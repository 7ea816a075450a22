package bot

import "sync"

// session is the per-user checkout state. It lives in process memory only;
// a restart sends users back to /start.
type session struct {
	Mode     string
	ServerID string
	PlanID   string
	Email    string

	AwaitingEmail  bool
	EmailInvalid   bool
	EmailChatID    int64
	EmailMessageID int
}

type sessionStore struct {
	mu sync.Mutex
	m  map[int64]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{m: make(map[int64]*session)}
}

// get returns a copy of the user's session.
func (s *sessionStore) get(userID int64) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.m[userID]; ok {
		return *sess
	}
	return session{}
}

// update applies fn under the lock and returns the result.
func (s *sessionStore) update(userID int64, fn func(*session)) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		sess = &session{}
		s.m[userID] = sess
	}
	fn(sess)
	return *sess
}
