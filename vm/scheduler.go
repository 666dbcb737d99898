package vm

import (
	"github.com/tliron/commonlog"
)

var schedLog = commonlog.GetLogger("picovm.sched")

// ---------------------------------------------------------------------------
// Cooperative scheduler
// ---------------------------------------------------------------------------

// TaskState tracks where a task sits in the scheduler.
type TaskState int32

const (
	TaskDormant TaskState = iota
	TaskReady
	TaskRunning
	TaskWaiting
)

// Task binds a VM to a scheduling slot: a priority, a timeslice, and a
// wake-up deadline while sleeping. Tasks link into singly-linked queues
// ordered by priority (lower number runs first).
//
// All task fields except the VM's preemption flag are touched only with
// interrupts masked (hal.DisableIrq), which is what makes Tick safe to
// call from the timer ISR.
type Task struct {
	next *Task

	Priority   int
	state      TaskState
	timeslice  int32
	wakeupTick uint32

	vm   *VM
	irep *IRep // owned top-level unit
}

// State returns the task's scheduling state.
func (t *Task) State() TaskState { return t.state }

// VM returns the task's virtual machine.
func (t *Task) VM() *VM { return t.vm }

// ---------------------------------------------------------------------------
// Task creation and teardown
// ---------------------------------------------------------------------------

// CreateTask loads a bytecode blob, binds a fresh VM to its top-level
// IREP, and queues the task as ready. Loader failures install nothing.
func (rt *Runtime) CreateTask(blob []byte, priority int) (*Task, error) {
	irep, err := rt.LoadBytecode(blob)
	if err != nil {
		return nil, err
	}
	vm, err := rt.newVM()
	if err != nil {
		rt.FreeIRep(irep)
		return nil, err
	}
	vm.begin(irep)

	t := &Task{
		Priority: priority,
		state:    TaskReady,
		vm:       vm,
		irep:     irep,
	}
	vm.task = t

	rt.hw.DisableIrq()
	rt.qReady = insertByPriority(rt.qReady, t)
	rt.hw.EnableIrq()

	schedLog.Infof("task created: vm %d priority %d", vm.ID, priority)
	return t, nil
}

// insertByPriority inserts t behind every queued task of equal or higher
// priority, so ties rotate round-robin.
func insertByPriority(head *Task, t *Task) *Task {
	if head == nil || t.Priority < head.Priority {
		t.next = head
		return t
	}
	cur := head
	for cur.next != nil && cur.next.Priority <= t.Priority {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
	return head
}

func removeTask(head *Task, t *Task) *Task {
	if head == t {
		next := head.next
		t.next = nil
		return next
	}
	for cur := head; cur != nil && cur.next != nil; cur = cur.next {
		if cur.next == t {
			cur.next = t.next
			t.next = nil
			break
		}
	}
	return head
}

// reapTask tears a finished VM down: remaining values, the register
// file, and every pool block tagged with its id.
func (rt *Runtime) reapTask(t *Task) {
	t.state = TaskDormant
	t.vm.end()
	rt.FreeIRep(t.irep)
	t.irep = nil
	rt.qDormant = insertByPriority(rt.qDormant, t)
	schedLog.Infof("task reaped: vm %d error=%d", t.vm.ID, t.vm.errorCode)
}

// ---------------------------------------------------------------------------
// Tick: the ISR contact surface
// ---------------------------------------------------------------------------

// Tick advances scheduler time by one unit: it decrements the running
// task's timeslice, raises its preemption flag when the slice is spent,
// and marks sleeping tasks whose deadline elapsed as ready. It takes the
// HAL interrupt mask as its critical section and mutates only word-sized
// fields; queue restructuring happens on the Run side.
func (rt *Runtime) Tick() {
	rt.hw.DisableIrq()
	defer rt.hw.EnableIrq()

	tick := rt.tickCnt.Add(1)

	if r := rt.running; r != nil {
		if r.timeslice > 0 {
			r.timeslice--
		}
		if r.timeslice == 0 {
			r.vm.flagPreemption.Store(1)
		}
	}

	for t := rt.qWaiting; t != nil; t = t.next {
		if t.state == TaskWaiting && tickLE(t.wakeupTick, tick) {
			t.state = TaskReady // Run moves it between queues
			if r := rt.running; r != nil && t.Priority < r.Priority {
				r.vm.flagPreemption.Store(1)
			}
		}
	}
}

// tickLE compares tick counts with wraparound.
func tickLE(a, b uint32) bool {
	return int32(b-a) >= 0
}

// sleepCurrent transitions the calling VM's task to waiting for ms
// milliseconds and forces the dispatch loop to yield.
func (rt *Runtime) sleepCurrent(vm *VM, ms int64) {
	t := vm.task
	if t == nil {
		return // VM driven outside the scheduler; sleep is a no-op
	}
	ticks := uint32(ms) / uint32(rt.cfg.TickIntervalMs)
	if ticks == 0 {
		ticks = 1
	}
	rt.hw.DisableIrq()
	t.wakeupTick = rt.tickCnt.Load() + ticks
	t.state = TaskWaiting
	rt.hw.EnableIrq()
	vm.flagPreemption.Store(1)
}

// ---------------------------------------------------------------------------
// Run: the main loop
// ---------------------------------------------------------------------------

// Run dispatches ready tasks until every task is dormant, idling the CPU
// through the HAL when nothing is runnable. Returns the first non-zero
// error word any VM ended with, or 0.
func (rt *Runtime) Run() ErrorCode {
	var result ErrorCode

	for {
		t, idle := rt.nextReady()
		if t == nil {
			if !idle {
				break // every task dormant
			}
			rt.hw.IdleCPU()
			continue
		}

		res := rt.runQuantum(t)

		switch {
		case res == dispatchHalted || t.vm.errorCode != ErrCodeOK:
			// Halted, or a built-in recorded an unrecoverable error.
			if t.vm.errorCode != ErrCodeOK && result == ErrCodeOK {
				result = t.vm.errorCode
			}
			rt.reapTask(t)
		case t.state == TaskWaiting:
			rt.hw.DisableIrq()
			rt.qWaiting = insertByPriority(rt.qWaiting, t)
			rt.hw.EnableIrq()
		default:
			// Preempted: back of its priority band.
			rt.hw.DisableIrq()
			t.state = TaskReady
			rt.qReady = insertByPriority(rt.qReady, t)
			rt.hw.EnableIrq()
		}
	}
	return result
}

// nextReady promotes awoken sleepers and dequeues the highest-priority
// ready task. The idle result reports whether sleepers remain.
func (rt *Runtime) nextReady() (*Task, bool) {
	rt.hw.DisableIrq()
	defer rt.hw.EnableIrq()

	for t := rt.qWaiting; t != nil; {
		next := t.next
		if t.state == TaskReady {
			rt.qWaiting = removeTask(rt.qWaiting, t)
			rt.qReady = insertByPriority(rt.qReady, t)
		}
		t = next
	}
	t := rt.qReady
	if t != nil {
		rt.qReady = removeTask(rt.qReady, t)
	}
	return t, rt.qWaiting != nil
}

// runQuantum runs one task until it yields, is preempted, or halts.
func (rt *Runtime) runQuantum(t *Task) int {
	rt.hw.DisableIrq()
	t.state = TaskRunning
	t.timeslice = int32(rt.cfg.Timeslice)
	t.vm.flagPreemption.Store(0)
	rt.running = t
	rt.hw.EnableIrq()

	res := t.vm.dispatch()

	rt.hw.DisableIrq()
	rt.running = nil
	rt.hw.EnableIrq()
	return res
}

// RunStep dispatches at most one ready task for one quantum. It exists
// for hosts that interleave the scheduler with their own outer loop, and
// for deterministic tests. Returns false once every task is dormant.
func (rt *Runtime) RunStep() bool {
	t, idle := rt.nextReady()
	if t == nil {
		return idle
	}

	res := rt.runQuantum(t)

	switch {
	case res == dispatchHalted || t.vm.errorCode != ErrCodeOK:
		rt.reapTask(t)
	case t.state == TaskWaiting:
		rt.hw.DisableIrq()
		rt.qWaiting = insertByPriority(rt.qWaiting, t)
		rt.hw.EnableIrq()
	default:
		rt.hw.DisableIrq()
		t.state = TaskReady
		rt.qReady = insertByPriority(rt.qReady, t)
		rt.hw.EnableIrq()
	}

	rt.hw.DisableIrq()
	defer rt.hw.EnableIrq()
	return rt.qReady != nil || rt.qWaiting != nil
}

// CleanupVM reaps every remaining task regardless of state, releasing
// all VM-owned memory. Used by embedders on shutdown.
func (rt *Runtime) CleanupVM() {
	for {
		rt.hw.DisableIrq()
		var t *Task
		if rt.qReady != nil {
			t = rt.qReady
			rt.qReady = removeTask(rt.qReady, t)
		} else if rt.qWaiting != nil {
			t = rt.qWaiting
			rt.qWaiting = removeTask(rt.qWaiting, t)
		}
		rt.hw.EnableIrq()
		if t == nil {
			return
		}
		rt.reapTask(t)
	}
}
