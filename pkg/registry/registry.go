package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/GNS3/vboxwrapper/pkg/controller"
	"github.com/GNS3/vboxwrapper/pkg/log"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
	"github.com/GNS3/vboxwrapper/pkg/types"
)

var (
	// ErrUnknownType is returned for a create with an unregistered device type
	ErrUnknownType = errors.New("registry: unknown device type")

	// ErrExists is returned when creating over an existing name
	ErrExists = errors.New("registry: instance already exists")

	// ErrNotFound is returned when no instance has the given name
	ErrNotFound = errors.New("registry: instance not found")

	// ErrUnknownAttr is returned for a setattr outside the allow-list
	ErrUnknownAttr = errors.New("registry: attribute not settable")

	// ErrInvalidValue is returned when a setattr value does not coerce to
	// the attribute's type
	ErrInvalidValue = errors.New("registry: invalid attribute value")
)

// deviceTypes maps the client-visible device type to instance defaults
var deviceTypes = map[string]func(inst *types.Instance){
	"vbox": func(inst *types.Instance) {
		inst.Netcard = string(types.AdapterAutomatic)
	},
}

// Entry pairs an instance's configuration with its lifecycle controller.
// The embedded mutex serializes controller transitions and configuration
// mutation for one instance across connections.
type Entry struct {
	mu   sync.Mutex
	Inst *types.Instance
	Ctl  *controller.Controller
}

// Do runs fn with the entry's exclusive lock held
func (e *Entry) Do(fn func(inst *types.Instance, ctl *controller.Controller) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.Inst, e.Ctl)
}

// Registry is the process-wide map from unique instance name to instance
// state. It is explicitly owned by the server and passed into every request
// handler; there is no ambient global.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	workdir   string
	ctlConfig controller.Config
}

// New creates an empty registry. ctlConfig is handed to every controller
// the registry creates.
func New(workdir string, ctlConfig controller.Config) *Registry {
	return &Registry{
		entries:   make(map[string]*Entry),
		workdir:   workdir,
		ctlConfig: ctlConfig,
	}
}

// SetWorkdir changes the base working directory for new instances
func (r *Registry) SetWorkdir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workdir = dir
}

// Create registers a new instance of the given device type under name
func (r *Registry) Create(devType, name string) error {
	defaults, ok := deviceTypes[devType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, devType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.entries[name]; taken {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}

	inst := types.NewInstance(name, r.workdir)
	defaults(inst)
	r.entries[name] = &Entry{
		Inst: inst,
		Ctl:  controller.New(inst, r.ctlConfig),
	}
	metrics.InstancesRegistered.Set(float64(len(r.entries)))
	log.Logger.Info().Str("instance", name).Str("type", devType).Msg("instance created")
	return nil
}

// Rename moves an entry to a new key, preserving all state. The entry lock
// is held across the name change so a concurrent controller transition never
// observes it mid-write; lock order is entry first, then r.mu, same as Delete.
func (r *Registry) Rename(oldName, newName string) error {
	entry, ok := r.Get(oldName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[oldName] != entry {
		// renamed or deleted concurrently
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if _, taken := r.entries[newName]; taken {
		return fmt.Errorf("%w: %s", ErrExists, newName)
	}

	entry.Inst.Name = newName
	r.entries[newName] = entry
	delete(r.entries, oldName)
	log.Logger.Info().Str("from", oldName).Str("to", newName).Msg("instance renamed")
	return nil
}

// Get looks an entry up by name
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Names returns all registered instance names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes an instance. A live process is stopped first; if that stop
// reports failure the instance stays registered and Delete fails.
func (r *Registry) Delete(name string) error {
	entry, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	err := entry.Do(func(inst *types.Instance, ctl *controller.Controller) error {
		if ctl.Running() {
			return ctl.Stop()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: stopping %s before delete: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[name] != entry {
		// renamed or deleted concurrently
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.entries, name)
	metrics.InstancesRegistered.Set(float64(len(r.entries)))
	log.Logger.Info().Str("instance", name).Msg("instance deleted")
	return nil
}

// settableAttrs is the fixed allow-list of mutable instance attributes
var settableAttrs = map[string]func(inst *types.Instance, value string) error{
	"image": func(inst *types.Instance, v string) error {
		inst.Image = v
		return nil
	},
	"console": func(inst *types.Instance, v string) error {
		return setInt(&inst.ConsolePort, v)
	},
	"nics": func(inst *types.Instance, v string) error {
		return setInt(&inst.NICs, v)
	},
	"netcard": func(inst *types.Instance, v string) error {
		inst.Netcard = v
		return nil
	},
	"guestcontrol_user": func(inst *types.Instance, v string) error {
		inst.GuestUser = v
		return nil
	},
	"guestcontrol_password": func(inst *types.Instance, v string) error {
		inst.GuestPassword = v
		return nil
	},
	"headless_mode": func(inst *types.Instance, v string) error {
		return setBool(&inst.Headless, v)
	},
	"console_support": func(inst *types.Instance, v string) error {
		return setBool(&inst.ConsoleSupport, v)
	},
	"console_telnet_server": func(inst *types.Instance, v string) error {
		return setBool(&inst.ConsoleTelnet, v)
	},
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: %q is not a valid number", ErrInvalidValue, value)
	}
	*dst = n
	return nil
}

// setBool coerces the boolean spellings clients send
func setBool(dst *bool, value string) error {
	switch value {
	case "True", "true", "1":
		*dst = true
	case "False", "false", "0":
		*dst = false
	default:
		return fmt.Errorf("%w: %q is not a valid boolean", ErrInvalidValue, value)
	}
	return nil
}

// SetAttr assigns one allow-listed attribute on an instance
func (r *Registry) SetAttr(name, attr, value string) error {
	entry, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	set, ok := settableAttrs[attr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAttr, attr)
	}
	return entry.Do(func(inst *types.Instance, _ *controller.Controller) error {
		if err := set(inst, value); err != nil {
			return err
		}
		log.Logger.Info().Str("instance", name).Str("attr", attr).Str("value", value).Msg("attribute set")
		return nil
	})
}

// Shutdown stops every instance with a live process and drains the registry
func (r *Registry) Shutdown() {
	log.Info("shutdown in progress")
	for _, name := range r.Names() {
		entry, ok := r.Get(name)
		if !ok {
			continue
		}
		_ = entry.Do(func(inst *types.Instance, ctl *controller.Controller) error {
			if ctl.Running() {
				if err := ctl.Stop(); err != nil {
					log.Logger.Error().Err(err).Str("instance", name).Msg("stop failed during shutdown")
				}
			}
			return nil
		})
		r.mu.Lock()
		delete(r.entries, name)
		r.mu.Unlock()
	}
	r.mu.Lock()
	metrics.InstancesRegistered.Set(float64(len(r.entries)))
	r.mu.Unlock()
	log.Info("shutdown completed")
}
