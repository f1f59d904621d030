package service

import "sync"

// serverQueue runs server commands outside the tenant lock. Commands for one
// server run one at a time in the order they were submitted; different
// servers run in parallel.
type serverQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func newServerQueue() *serverQueue {
	return &serverQueue{pending: make(map[int64][]func())}
}

func (q *serverQueue) submit(serverID int64, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, running := q.pending[serverID]
	q.pending[serverID] = append(tasks, task)
	if !running {
		q.wg.Add(1)
		go q.drain(serverID)
	}
}

// do submits task and waits for it to run.
func (q *serverQueue) do(serverID int64, task func()) {
	done := make(chan struct{})
	q.submit(serverID, func() {
		defer close(done)
		task()
	})
	<-done
}

func (q *serverQueue) drain(serverID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		tasks := q.pending[serverID]
		if len(tasks) == 0 {
			delete(q.pending, serverID)
			q.mu.Unlock()
			return
		}
		task := tasks[0]
		q.pending[serverID] = tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// wait blocks until every submitted command has run.
func (q *serverQueue) wait() {
	q.wg.Wait()
}
