package vbox

import (
	"fmt"
	"sync"

	"github.com/GNS3/vboxwrapper/pkg/types"
)

// Fake is an in-memory Backend used by tests. Failure injection mimics the
// real engine's transient "not ready" behavior: FailNotReady(op, n) makes the
// next n calls of that operation fail with ErrNotReady before succeeding.
type Fake struct {
	mu       sync.Mutex
	machines map[string]*FakeMachine
	failures map[string]int

	EngineVersion  string
	EngineRevision int
	AdapterLimit   int
}

// NewFake creates an empty fake backend
func NewFake() *Fake {
	return &Fake{
		machines:       make(map[string]*FakeMachine),
		failures:       make(map[string]int),
		EngineVersion:  "4.3.12",
		EngineRevision: 93733,
		AdapterLimit:   8,
	}
}

// AddMachine registers a VM with the fake engine
func (f *Fake) AddMachine(name string) *FakeMachine {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &FakeMachine{
		fake:          f,
		name:          name,
		MachineState:  types.StateStopped,
		ChipsetType:   ChipsetPIIX3,
		LaunchPercent: 100,
		GuestProps:    make(map[string]string),
	}
	m.Adapters = make([]*FakeAdapter, f.AdapterLimit)
	for i := range m.Adapters {
		m.Adapters[i] = &FakeAdapter{
			machine:     m,
			AdapterKind: types.AdapterI82540EM,
			Props:       make(map[string]string),
		}
	}
	f.machines[name] = m
	return m
}

// FailNotReady arranges for the next n calls of op to fail with ErrNotReady
func (f *Fake) FailNotReady(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// consume burns one injected failure for op, if any remain
func (f *Fake) consume(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[op] > 0 {
		f.failures[op]--
		return ErrNotReady
	}
	return nil
}

func (f *Fake) Version() (string, error) {
	if err := f.consume("version"); err != nil {
		return "", err
	}
	return f.EngineVersion, nil
}

func (f *Fake) Revision() (int, error) {
	return f.EngineRevision, nil
}

func (f *Fake) MachineNames() ([]string, error) {
	if err := f.consume("machine_names"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.machines))
	for name := range f.machines {
		names = append(names, name)
	}
	return names, nil
}

func (f *Fake) FindMachine(name string) (Machine, error) {
	if err := f.consume("find_machine"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.machines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMachineNotFound, name)
	}
	return m, nil
}

func (f *Fake) NewSession() (Session, error) {
	if err := f.consume("new_session"); err != nil {
		return nil, err
	}
	return &fakeSession{fake: f}, nil
}

func (f *Fake) MaxAdapters(chipset Chipset) (int, error) {
	if err := f.consume("max_adapters"); err != nil {
		return 0, err
	}
	return f.AdapterLimit, nil
}

// FakeMachine is a fake engine VM. Exported fields may be inspected or
// preset by tests between operations.
type FakeMachine struct {
	fake *Fake
	name string

	MachineState  types.MachineState
	ChipsetType   Chipset
	LaunchPercent int
	Adapters      []*FakeAdapter
	SerialPath    string
	GuestProps    map[string]string

	locked *fakeSession
}

func (m *FakeMachine) Name() string { return m.name }

func (m *FakeMachine) State() types.MachineState { return m.MachineState }

func (m *FakeMachine) Chipset() Chipset { return m.ChipsetType }

func (m *FakeMachine) Lock(s Session) error {
	if err := m.fake.consume("lock"); err != nil {
		return err
	}
	fs := s.(*fakeSession)
	if m.locked != nil && m.locked != fs {
		return ErrSessionHeld
	}
	m.locked = fs
	fs.machine = m
	return nil
}

func (m *FakeMachine) Launch(s Session, mode string) (Progress, error) {
	if err := m.fake.consume("launch"); err != nil {
		return nil, err
	}
	if m.MachineState.Online() {
		return nil, fmt.Errorf("vbox: machine %s is already running", m.name)
	}
	fs := s.(*fakeSession)
	m.locked = fs
	fs.machine = m
	if m.LaunchPercent == 100 {
		m.MachineState = types.StateRunning
	}
	return &fakeProgress{percent: m.LaunchPercent}, nil
}

func (m *FakeMachine) SetGuestProperty(key, value string) error {
	if err := m.fake.consume("guest_property"); err != nil {
		return err
	}
	m.GuestProps[key] = value
	return nil
}

// Locked reports whether an exclusive session currently holds the machine
func (m *FakeMachine) Locked() bool { return m.locked != nil }

type fakeSession struct {
	fake    *Fake
	machine *FakeMachine
}

func (s *fakeSession) Machine() (SessionMachine, error) {
	if err := s.fake.consume("session_machine"); err != nil {
		return nil, err
	}
	if s.machine == nil {
		return nil, fmt.Errorf("vbox: session is not locked")
	}
	return &fakeSessionMachine{m: s.machine}, nil
}

func (s *fakeSession) Console() (Console, error) {
	if err := s.fake.consume("console"); err != nil {
		return nil, err
	}
	if s.machine == nil {
		return nil, fmt.Errorf("vbox: session is not locked")
	}
	return &fakeConsole{m: s.machine}, nil
}

func (s *fakeSession) Unlock() error {
	if err := s.fake.consume("unlock"); err != nil {
		return err
	}
	if s.machine != nil && s.machine.locked == s {
		s.machine.locked = nil
	}
	s.machine = nil
	return nil
}

type fakeSessionMachine struct {
	m *FakeMachine
}

func (sm *fakeSessionMachine) Adapter(slot int) (Adapter, error) {
	if err := sm.m.fake.consume("get_adapter"); err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(sm.m.Adapters) {
		return nil, fmt.Errorf("vbox: adapter slot %d out of range", slot)
	}
	return sm.m.Adapters[slot], nil
}

func (sm *fakeSessionMachine) ConfigureSerialConsole(path string) error {
	if err := sm.m.fake.consume("serial"); err != nil {
		return err
	}
	sm.m.SerialPath = path
	return nil
}

func (sm *fakeSessionMachine) SaveSettings() error {
	if err := sm.m.fake.consume("save_settings"); err != nil {
		return err
	}
	return nil
}

// FakeAdapter records the configuration applied to one adapter slot
type FakeAdapter struct {
	machine *FakeMachine

	AdapterKind  types.AdapterType
	Enabled      bool
	Cable        bool
	Attachment   types.Attachment
	Props        map[string]string
	TraceEnabled bool
	TraceFile    string
}

func (a *FakeAdapter) Type() (types.AdapterType, error) {
	if err := a.machine.fake.consume("adapter_type"); err != nil {
		return "", err
	}
	return a.AdapterKind, nil
}

func (a *FakeAdapter) SetType(t types.AdapterType) error {
	if err := a.machine.fake.consume("adapter_set"); err != nil {
		return err
	}
	a.AdapterKind = t
	return nil
}

func (a *FakeAdapter) SetEnabled(enabled bool) error {
	if err := a.machine.fake.consume("adapter_set"); err != nil {
		return err
	}
	a.Enabled = enabled
	return nil
}

func (a *FakeAdapter) SetCableConnected(connected bool) error {
	if err := a.machine.fake.consume("adapter_set"); err != nil {
		return err
	}
	a.Cable = connected
	return nil
}

func (a *FakeAdapter) Attach(at types.Attachment) error {
	if err := a.machine.fake.consume("attach"); err != nil {
		return err
	}
	a.Attachment = at
	return nil
}

func (a *FakeAdapter) SetTunnelProperty(key, value string) error {
	if err := a.machine.fake.consume("tunnel_property"); err != nil {
		return err
	}
	a.Props[key] = value
	return nil
}

func (a *FakeAdapter) SetTraceEnabled(enabled bool) error {
	if err := a.machine.fake.consume("trace"); err != nil {
		return err
	}
	a.TraceEnabled = enabled
	return nil
}

func (a *FakeAdapter) SetTraceFile(path string) error {
	if err := a.machine.fake.consume("trace"); err != nil {
		return err
	}
	a.TraceFile = path
	return nil
}

type fakeConsole struct {
	m *FakeMachine
}

func (c *fakeConsole) PowerDown() (Progress, error) {
	if err := c.m.fake.consume("power_down"); err != nil {
		return nil, err
	}
	c.m.MachineState = types.StateStopped
	return &fakeProgress{percent: 100}, nil
}

func (c *fakeConsole) Reset() (Progress, error) {
	if err := c.m.fake.consume("reset"); err != nil {
		return nil, err
	}
	return &fakeProgress{percent: 100}, nil
}

func (c *fakeConsole) Pause() error {
	if err := c.m.fake.consume("pause"); err != nil {
		return err
	}
	c.m.MachineState = types.StatePaused
	return nil
}

func (c *fakeConsole) Resume() error {
	if err := c.m.fake.consume("resume"); err != nil {
		return err
	}
	c.m.MachineState = types.StateRunning
	return nil
}

type fakeProgress struct {
	percent int
}

func (p *fakeProgress) WaitForCompletion(timeoutMillis int) error { return nil }

func (p *fakeProgress) Percent() int { return p.percent }
