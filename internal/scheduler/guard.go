package scheduler

import (
	"sort"
	"sync"
)

// Guard tracks which tasks have a check in flight. A task is either idle or
// running; TryAcquire is the only idle-to-running transition.
type Guard struct {
	running sync.Map
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{}
}

// TryAcquire marks taskID running and reports whether the caller won it.
func (g *Guard) TryAcquire(taskID int64) bool {
	_, loaded := g.running.LoadOrStore(taskID, struct{}{})
	return !loaded
}

// Release returns taskID to idle. Releasing an idle task is a no-op.
func (g *Guard) Release(taskID int64) {
	g.running.Delete(taskID)
}

// IsRunning reports whether taskID is currently held.
func (g *Guard) IsRunning(taskID int64) bool {
	_, ok := g.running.Load(taskID)
	return ok
}

// Running lists the held task IDs in ascending order.
func (g *Guard) Running() []int64 {
	ids := []int64{}
	g.running.Range(func(key, _ any) bool {
		ids = append(ids, key.(int64))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
