package lock

import "sync"

// DeadlockProfiler watches the order in which each owner acquires locks
// and flags cycles in the resulting "held-then-acquired" graph. Grounded
// on _examples/original_source/Thread/include/DeadlockProfiler.hpp and
// _examples/original_source/Thread/source/DeadlockProfiler.cpp.
//
// Intended for debug builds only: every PushLock that adds a new edge runs
// a full DFS over the graph, which is too costly to carry into a release
// build (spec
// SPEC_FULL.md §3 item 5). Callers gate construction behind their own
// debug flag; passing a nil *DeadlockProfiler to Lock.New disables
// tracking entirely.
type DeadlockProfiler struct {
	mu sync.Mutex

	nameToID map[string]int32
	idToName map[int32]string
	history  map[int32]map[int32]bool

	stacks map[uint16][]int32

	discovered []int32
	finished   []bool
	parent     []int32
	discCount  int32
}

func NewDeadlockProfiler() *DeadlockProfiler {
	return &DeadlockProfiler{
		nameToID: make(map[string]int32),
		idToName: make(map[int32]string),
		history:  make(map[int32]map[int32]bool),
		stacks:   make(map[uint16][]int32),
	}
}

func (p *DeadlockProfiler) idFor(name string) int32 {
	if id, ok := p.nameToID[name]; ok {
		return id
	}
	id := int32(len(p.nameToID))
	p.nameToID[name] = id
	p.idToName[id] = name
	return id
}

// PushLock records that ownerID is acquiring the lock named name, on top
// of whatever it already holds, and checks the graph for a cycle if this
// introduces a new edge.
func (p *DeadlockProfiler) PushLock(ownerID uint16, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lockID := p.idFor(name)
	stack := p.stacks[ownerID]
	if len(stack) > 0 {
		prevID := stack[len(stack)-1]
		if prevID != lockID {
			edges, ok := p.history[prevID]
			if !ok {
				edges = make(map[int32]bool)
				p.history[prevID] = edges
			}
			if !edges[lockID] {
				edges[lockID] = true
				p.checkCycle()
			}
		}
	}
	p.stacks[ownerID] = append(stack, lockID)
}

// PopLock records that ownerID released name. name must be the
// most-recently pushed, still-held lock for ownerID.
func (p *DeadlockProfiler) PopLock(ownerID uint16, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stack := p.stacks[ownerID]
	if len(stack) == 0 {
		panic("lock: deadlock profiler popped an empty stack for lock " + name)
	}
	lockID := p.idFor(name)
	top := stack[len(stack)-1]
	if top != lockID {
		panic("lock: deadlock profiler popped " + name + " out of order, top of stack is " + p.idToName[top])
	}
	p.stacks[ownerID] = stack[:len(stack)-1]
}

// checkCycle runs a fresh DFS over the whole lock graph. Called with
// p.mu already held.
func (p *DeadlockProfiler) checkCycle() {
	n := int32(len(p.nameToID))
	p.discovered = make([]int32, n)
	p.finished = make([]bool, n)
	p.parent = make([]int32, n)
	for i := range p.discovered {
		p.discovered[i] = -1
		p.parent[i] = -1
	}
	p.discCount = 0

	for lockID := int32(0); lockID < n; lockID++ {
		if p.discovered[lockID] == -1 {
			p.dfs(lockID)
		}
	}
}

func (p *DeadlockProfiler) dfs(here int32) {
	p.discovered[here] = p.discCount
	p.discCount++

	for there := range p.history[here] {
		if p.discovered[there] == -1 {
			p.parent[there] = here
			p.dfs(there)
			continue
		}
		if p.discovered[there] < p.discovered[here] && !p.finished[there] {
			p.reportCycle(here, there)
		}
	}

	p.finished[here] = true
}

// reportCycle logs the cycle by walking the parent chain from here back up
// to there, and panics: a detected lock-order cycle is a programming
// error, not a recoverable runtime condition.
func (p *DeadlockProfiler) reportCycle(here, there int32) {
	log.Criticalf("deadlock detected: %s -> %s", p.idToName[here], p.idToName[there])
	for at := here; at != there; at = p.parent[at] {
		log.Criticalf("  %s held while acquiring %s", p.idToName[p.parent[at]], p.idToName[at])
	}
	panic("lock: deadlock detected, see log for the cycle")
}
