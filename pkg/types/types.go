package types

import (
	"net"

	"github.com/GNS3/vboxwrapper/pkg/log"
)

// MachineState represents the lifecycle state of a VM as reported by the
// hypervisor. StateNull means the instance was never started.
type MachineState int

const (
	StateNull MachineState = iota
	StateStopped
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateError
)

// Online reports whether the machine is in any executing sub-state.
// An online machine cannot be started again and holds host resources.
func (s MachineState) Online() bool {
	return s >= StateStarting && s <= StateStopping
}

func (s MachineState) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Attachment defines what an adapter's virtual wire is connected to
type Attachment int

const (
	// AttachmentNull leaves the adapter present but inert
	AttachmentNull Attachment = iota
	// AttachmentUDPTunnel routes the virtual wire through a UDP endpoint pair
	AttachmentUDPTunnel
)

func (a Attachment) String() string {
	if a == AttachmentUDPTunnel {
		return "udp_tunnel"
	}
	return "null"
}

// AdapterType identifies the emulated network card hardware
type AdapterType string

const (
	AdapterAm79C970A AdapterType = "Am79C970A"
	AdapterAm79C973  AdapterType = "Am79C973"
	AdapterI82540EM  AdapterType = "82540EM"
	AdapterI82543GC  AdapterType = "82543GC"
	AdapterI82545EM  AdapterType = "82545EM"
	AdapterVirtio    AdapterType = "virtio"
	// AdapterAutomatic mirrors the management adapter's (slot 0) type
	AdapterAutomatic AdapterType = "Automatic"
)

// adapterModels maps the human-readable card model names used by clients to
// backend adapter types
var adapterModels = map[string]AdapterType{
	"PCnet-PCI II (Am79C970A)":            AdapterAm79C970A,
	"PCNet-FAST III (Am79C973)":           AdapterAm79C973,
	"Intel PRO/1000 MT Desktop (82540EM)": AdapterI82540EM,
	"Intel PRO/1000 T Server (82543GC)":   AdapterI82543GC,
	"Intel PRO/1000 MT Server (82545EM)":  AdapterI82545EM,
	"Paravirtualized Network (virtio-net)": AdapterVirtio,
	"Automatic":                           AdapterAutomatic,
	"automatic":                           AdapterAutomatic,
}

// AdapterTypeForModel resolves a card model name to a backend adapter type.
// Unknown models return AdapterAutomatic so a typo degrades to the management
// adapter's type instead of failing the whole start.
func AdapterTypeForModel(model string) AdapterType {
	if t, ok := adapterModels[model]; ok {
		return t
	}
	return AdapterAutomatic
}

// UDPTunnelConfig describes one adapter's UDP tunnel endpoints
type UDPTunnelConfig struct {
	LocalPort  int
	RemoteHost string
	RemotePort int
}

// ResolveRemoteHost resolves the remote hostname to a literal address once,
// at creation time. IPv4 is preferred since the tunnel driver only speaks
// IPv4. Resolution failures keep the literal and are logged; the backend
// will surface the error if the name is truly unreachable.
func (u *UDPTunnelConfig) ResolveRemoteHost() {
	addrs, err := net.LookupHost(u.RemoteHost)
	if err != nil || len(addrs) == 0 {
		log.Logger.Error().Err(err).Str("host", u.RemoteHost).Msg("unable to resolve hostname")
		return
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			u.RemoteHost = addr
			return
		}
	}
	u.RemoteHost = addrs[0]
}

// AdapterConfig is the desired state of a single adapter slot
type AdapterConfig struct {
	Enabled      bool
	Attachment   Attachment
	UDP          *UDPTunnelConfig
	CaptureFile  string
	HardwareType AdapterType
}

// Instance is a managed VM registered under a unique name. All mutation goes
// through the registry or the instance controller, never through protocol
// handlers directly.
type Instance struct {
	Name          string
	Image         string
	ConsolePort   int
	NICs          int
	Netcard       string
	GuestUser     string
	GuestPassword string
	Headless      bool
	ConsoleSupport bool
	ConsoleTelnet  bool
	Workdir        string

	// UDP and Captures are sparse, keyed by adapter slot in [0, NICs)
	UDP      map[int]*UDPTunnelConfig
	Captures map[int]string
}

// NewInstance creates an instance with the defaults expected by clients
func NewInstance(name, workdir string) *Instance {
	return &Instance{
		Name:     name,
		NICs:     6,
		Netcard:  string(AdapterAutomatic),
		Workdir:  workdir,
		UDP:      make(map[int]*UDPTunnelConfig),
		Captures: make(map[int]string),
	}
}

// AdapterPlan expands the sparse tunnel/capture maps into the ordered
// per-slot configuration applied on start: tunnel slots attach UDP with the
// cable up, bare slots stay enabled but detached with the cable down.
func (i *Instance) AdapterPlan() []AdapterConfig {
	plan := make([]AdapterConfig, i.NICs)
	hw := AdapterTypeForModel(i.Netcard)
	for slot := range plan {
		cfg := AdapterConfig{
			Enabled:      true,
			HardwareType: hw,
			CaptureFile:  i.Captures[slot],
		}
		if udp, ok := i.UDP[slot]; ok {
			cfg.Attachment = AttachmentUDPTunnel
			cfg.UDP = udp
		}
		plan[slot] = cfg
	}
	return plan
}
