package vm

import (
	"bytes"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Test HAL: captures console output, mutex-backed interrupt mask
// ---------------------------------------------------------------------------

type testHAL struct {
	irq sync.Mutex

	mu     sync.Mutex
	out    bytes.Buffer
	onIdle func()
}

func (h *testHAL) Init() error { return nil }
func (h *testHAL) EnableIrq()  { h.irq.Unlock() }
func (h *testHAL) DisableIrq() { h.irq.Lock() }

func (h *testHAL) IdleCPU() {
	if h.onIdle != nil {
		h.onIdle()
	}
}

func (h *testHAL) Write(fd int, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.Write(buf)
}

func (h *testHAL) Flush(fd int) error { return nil }

func (h *testHAL) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.String()
}

func (h *testHAL) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out.Reset()
}

// newTestRuntime builds a runtime over a fresh pool with a capturing HAL.
func newTestRuntime(t *testing.T, poolSize int) (*Runtime, *testHAL) {
	t.Helper()
	h := &testHAL{}
	rt, err := Init(make([]byte, poolSize), h, DefaultConfig())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return rt, h
}

// loadProgram serializes a builder and loads it back through the runtime.
func loadProgram(t *testing.T, rt *Runtime, cb *CodeBuilder) *IRep {
	t.Helper()
	irep, err := rt.LoadBytecode(cb.Bytes(rt.Config().Require32BitAlign))
	if err != nil {
		t.Fatalf("LoadBytecode: %v", err)
	}
	return irep
}

// runProgram executes a program on a dedicated VM outside the scheduler
// and returns the VM with registers intact (programs end with ABORT to
// keep them inspectable). Cleanup releases the VM and the IREP tree.
func runProgram(t *testing.T, rt *Runtime, cb *CodeBuilder) *VM {
	t.Helper()
	irep := loadProgram(t, rt, cb)
	vm, err := rt.newVM()
	if err != nil {
		t.Fatalf("newVM: %v", err)
	}
	vm.begin(irep)
	if res := vm.dispatch(); res != dispatchHalted {
		t.Fatalf("dispatch = %d, want halted", res)
	}
	t.Cleanup(func() {
		vm.end()
		rt.FreeIRep(irep)
	})
	return vm
}
