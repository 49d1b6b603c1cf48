// Package task is C6: the cooperative task scheduler and process model. A
// Scheduler holds the circular run queue of Tasks; a Manager layers process
// lifecycle (load, per-process heap ledger, argument injection, terminate)
// on top of it.
//
// The REDESIGN FLAGS note on cyclic structures is taken: tasks live in a
// map keyed by a small stable TaskID, and next/prev are TaskIDs rather than
// pointers, so the run queue is an arena of indices instead of an
// unchecked pointer cycle.
package task

import (
	"fmt"

	"github.com/splanck/vana/internal/bootlog"
	"github.com/splanck/vana/internal/ioport"
	"github.com/splanck/vana/internal/paging"
)

// TaskID identifies a task within a Scheduler's arena. noTask is the
// sentinel used for "no such task" (an empty run queue's head/tail/current).
type TaskID int

const noTask TaskID = -1

// Registers is the saved user-mode CPU state captured on every suspension
// point (syscall entry, hardware interrupt, CPU exception).
type Registers struct {
	IP, CS, Flags, SP, SS uintptr
	GPRegs                [8]uintptr
}

// ProcessID identifies the owning process of a task; defined here rather
// than imported from elsewhere in the package to avoid a cycle between the
// task and process halves of this package.
type ProcessID int

type entry struct {
	id        TaskID
	processID ProcessID
	dir       *paging.Directory
	regs      Registers
	next      TaskID
	prev      TaskID
}

// Scheduler is the circular run queue plus the single cursor identifying
// the task that owns the CPU.
type Scheduler struct {
	bus    ioport.Bus
	log    *bootlog.Logger
	tasks  map[TaskID]*entry
	nextID TaskID
	head   TaskID
	tail   TaskID
	curr   TaskID
}

// NewScheduler returns an empty scheduler. bus is used to install a task's
// address space on SwitchTo; log receives the fatal message the spec
// requires before panicking on an invariant violation (an empty run queue
// at Next, or switching to an unknown task).
func NewScheduler(bus ioport.Bus, log *bootlog.Logger) *Scheduler {
	return &Scheduler{
		bus:   bus,
		log:   log,
		tasks: make(map[TaskID]*entry),
		head:  noTask,
		tail:  noTask,
		curr:  noTask,
	}
}

// NewTask allocates a task for processID over dir, with registers seeded to
// {ip=entry, cs=userCS, ss=userSS, sp=userSP, flags=0}, and links it at the
// tail of the run queue.
func (s *Scheduler) NewTask(processID ProcessID, dir *paging.Directory, entryPoint, userCS, userSS, userSP uintptr) TaskID {
	id := s.nextID
	s.nextID++

	t := &entry{
		id:        id,
		processID: processID,
		dir:       dir,
		regs:      Registers{IP: entryPoint, CS: userCS, SS: userSS, SP: userSP},
		next:      noTask,
		prev:      noTask,
	}
	s.tasks[id] = t

	if s.head == noTask {
		s.head, s.tail, s.curr = id, id, id
		return id
	}

	tail := s.tasks[s.tail]
	tail.next = id
	t.prev = s.tail
	s.tail = id
	return id
}

// Current returns the task currently scheduled, or ok=false if the queue is
// empty.
func (s *Scheduler) Current() (TaskID, bool) {
	if s.curr == noTask {
		return 0, false
	}
	return s.curr, true
}

// Registers returns a copy of id's saved register set.
func (s *Scheduler) Registers(id TaskID) (Registers, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return Registers{}, false
	}
	return t.regs, true
}

// Directory returns id's address space.
func (s *Scheduler) Directory(id TaskID) (*paging.Directory, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.dir, true
}

// ProcessID returns the process id id belongs to.
func (s *Scheduler) ProcessID(id TaskID) (ProcessID, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return 0, false
	}
	return t.processID, true
}

// SaveState overwrites id's saved registers, the way the common interrupt
// and syscall stubs capture state before scheduling another task.
func (s *Scheduler) SaveState(id TaskID, regs Registers) {
	if t, ok := s.tasks[id]; ok {
		t.regs = regs
	}
}

// next follows current.next, wrapping to head; noTask if the queue is
// empty.
func (s *Scheduler) next() TaskID {
	if s.curr == noTask {
		return noTask
	}
	t := s.tasks[s.curr]
	if t.next == noTask {
		return s.head
	}
	return t.next
}

// SwitchTo installs id as current and loads its address space. Switching to
// an unregistered id is a programming error and panics, matching the
// original's unchecked pointer dereference on the equivalent path.
func (s *Scheduler) SwitchTo(id TaskID) {
	t, ok := s.tasks[id]
	if !ok {
		msg := fmt.Sprintf("task: switch_to unknown task %d", int(id))
		s.log.Error(msg)
		panic(msg)
	}
	s.curr = id
	s.bus.LoadDirectory(t.dir.Root())
}

// Next selects the next runnable task and switches to it. An empty run
// queue is the invariant violation section 5's propagation policy calls
// out explicitly: log and panic.
func (s *Scheduler) Next() TaskID {
	id := s.next()
	if id == noTask {
		s.log.Error("task: no more tasks")
		panic("task: no more tasks")
	}
	s.SwitchTo(id)
	return id
}

// Free removes id from the run queue, repairing neighbour links and
// head/tail, advances current first if id was current, destroys id's
// address space, and drops the task record.
func (s *Scheduler) Free(id TaskID) {
	t, ok := s.tasks[id]
	if !ok {
		return
	}

	if s.curr == id {
		if nxt := s.next(); nxt != id {
			s.curr = nxt
		} else {
			s.curr = noTask
		}
	}

	if t.prev != noTask {
		s.tasks[t.prev].next = t.next
	}
	if t.next != noTask {
		s.tasks[t.next].prev = t.prev
	}
	if s.head == id {
		s.head = t.next
	}
	if s.tail == id {
		s.tail = t.prev
	}

	t.dir.Destroy()
	delete(s.tasks, id)
}

// Empty reports whether the run queue has no tasks left.
func (s *Scheduler) Empty() bool { return s.head == noTask }

// HeadTail exposes head/tail so callers (and this package's own tests) can
// check the run-queue circularity invariant directly.
func (s *Scheduler) HeadTail() (TaskID, TaskID) { return s.head, s.tail }
