package vbox

import (
	"errors"

	"github.com/GNS3/vboxwrapper/pkg/types"
)

// Chipset identifies the emulated mainboard chipset, which bounds how many
// network adapters a machine can carry.
type Chipset string

const (
	ChipsetPIIX3 Chipset = "PIIX3"
	ChipsetICH9  Chipset = "ICH9"
)

var (
	// ErrNotReady is the transient "object is not ready" failure the API
	// raises on slow or loaded hosts. Calls failing with it are retried.
	ErrNotReady = errors.New("vbox: the object is not ready")

	// ErrMachineNotFound is returned when no registered VM has the given name
	ErrMachineNotFound = errors.New("vbox: machine not found")

	// ErrSessionHeld is returned when a second exclusive session is requested
	// for a machine that is already locked
	ErrSessionHeld = errors.New("vbox: session already held")

	// ErrUnavailable is returned when no hypervisor engine is installed or
	// its API bindings cannot be loaded
	ErrUnavailable = errors.New("vbox: VirtualBox API unavailable")
)

// Backend is the version-specific hypervisor control API. The engine breaks
// API compatibility between major releases, so each supported release gets
// its own Backend implementation behind this interface.
type Backend interface {
	// Version returns the engine version string, e.g. "4.3.12"
	Version() (string, error)
	// Revision returns the engine build revision
	Revision() (int, error)
	// MachineNames enumerates all VMs registered with the engine
	MachineNames() ([]string, error)
	// FindMachine resolves a registered VM by name
	FindMachine(name string) (Machine, error)
	// NewSession creates an unlocked session object. Mutating a machine
	// requires locking it through the session first.
	NewSession() (Session, error)
	// MaxAdapters returns the adapter slot count supported by a chipset
	MaxAdapters(chipset Chipset) (int, error)
}

// Machine is a read-side handle on a registered VM
type Machine interface {
	Name() string
	State() types.MachineState
	Chipset() Chipset
	// Lock acquires the machine exclusively through the session. The engine
	// itself rejects a second lock while one is held.
	Lock(s Session) error
	// Launch starts the VM process and implicitly locks the session.
	// mode is "gui" or "headless".
	Launch(s Session, mode string) (Progress, error)
	// SetGuestProperty tags the machine with a key/value pair
	SetGuestProperty(key, value string) error
}

// Session is an exclusive lock granted by the engine, required to mutate
// machine configuration. At most one is held per machine.
type Session interface {
	// Machine returns the mutable view of the locked machine
	Machine() (SessionMachine, error)
	// Console returns the console of a running machine
	Console() (Console, error)
	// Unlock releases the session
	Unlock() error
}

// SessionMachine is the mutable machine view held while a session is locked
type SessionMachine interface {
	Adapter(slot int) (Adapter, error)
	// ConfigureSerialConsole points serial port 0 at a host pipe endpoint.
	// An empty path disables the port.
	ConfigureSerialConsole(path string) error
	// SaveSettings persists pending configuration changes
	SaveSettings() error
}

// Adapter is one network adapter slot of a locked machine
type Adapter interface {
	Type() (types.AdapterType, error)
	SetType(t types.AdapterType) error
	SetEnabled(enabled bool) error
	SetCableConnected(connected bool) error
	// Attach sets the attachment kind; AttachmentUDPTunnel selects the
	// generic UDP tunnel driver
	Attach(a types.Attachment) error
	// SetTunnelProperty sets one of the tunnel driver properties
	// ("sport", "dest", "dport")
	SetTunnelProperty(key, value string) error
	SetTraceEnabled(enabled bool) error
	SetTraceFile(path string) error
}

// Console drives a running machine
type Console interface {
	PowerDown() (Progress, error)
	Reset() (Progress, error)
	Pause() error
	Resume() error
}

// Progress tracks an asynchronous engine operation
type Progress interface {
	// WaitForCompletion blocks until the operation finishes. A negative
	// timeout waits forever.
	WaitForCompletion(timeoutMillis int) error
	// Percent reports completion; below 100 the operation failed even if
	// WaitForCompletion returned without error
	Percent() int
}

// Connect loads the engine API bindings and returns a Backend for the
// installed VirtualBox release. The engine itself, and the platform COM or
// XPCOM bootstrapping it needs, live outside this module; builds without an
// engine adapter always report ErrUnavailable and the server degrades to
// protocol-only operation (see the --no-vbox-checks flag).
func Connect() (Backend, error) {
	return nil, ErrUnavailable
}
