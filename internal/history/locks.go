package history

import "sync"

// chatLocks hands out one mutex per chat id and drops it once unused.
type chatLocks struct {
	mu sync.Mutex
	m  map[int64]*chatLock
}

type chatLock struct {
	sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{m: map[int64]*chatLock{}}
}

func (l *chatLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	cl, ok := l.m[id]
	if !ok {
		cl = &chatLock{}
		l.m[id] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.Lock()
	return func() {
		cl.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
