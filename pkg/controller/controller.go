package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/GNS3/vboxwrapper/pkg/console"
	"github.com/GNS3/vboxwrapper/pkg/log"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
	"github.com/GNS3/vboxwrapper/pkg/types"
	"github.com/GNS3/vboxwrapper/pkg/vbox"
)

var (
	// ErrNoBackend means no hypervisor engine is connected
	ErrNoBackend = errors.New("controller: no hypervisor backend")

	// ErrAlreadyRunning rejects starting an instance in an online state
	ErrAlreadyRunning = errors.New("controller: instance is already running")

	// ErrNotRunning rejects console operations on an offline instance
	ErrNotRunning = errors.New("controller: instance is not running")

	// ErrNotPaused rejects resuming an instance that is not paused
	ErrNotPaused = errors.New("controller: instance is not paused")
)

// Config holds controller construction options
type Config struct {
	Backend vbox.Backend
	// Stop selects how the power-down half of Stop is performed.
	// Defaults to GracefulStop.
	Stop StopStrategy
	// Policies override the default retry budgets (used by tests)
	Policies *Policies
	// ListenHost is the address console telnet listeners bind to
	ListenHost string
	// PipeDir is where serial console pipes are created; defaults to the
	// system temp directory
	PipeDir string
}

// Controller drives one instance through its lifecycle against the backend.
// All methods must be called under the registry's per-instance lock; the
// controller itself performs no synchronization.
type Controller struct {
	inst       *types.Instance
	backend    vbox.Backend
	stop       StopStrategy
	policies   Policies
	listenHost string
	pipeDir    string
	logger     zerolog.Logger

	mach    vbox.Machine
	session vbox.Session
	console vbox.Console
	proxy   *console.Proxy
}

// New creates a controller for inst
func New(inst *types.Instance, cfg Config) *Controller {
	c := &Controller{
		inst:       inst,
		backend:    cfg.Backend,
		stop:       cfg.Stop,
		policies:   DefaultPolicies(),
		listenHost: cfg.ListenHost,
		pipeDir:    cfg.PipeDir,
		logger:     log.WithInstance(inst.Name),
	}
	if c.stop == nil {
		c.stop = &GracefulStop{}
	}
	if cfg.Policies != nil {
		c.policies = *cfg.Policies
	}
	if c.pipeDir == "" {
		c.pipeDir = os.TempDir()
	}
	return c
}

// Running reports whether the controller holds a live VM process
func (c *Controller) Running() bool {
	return c.console != nil
}

// Status returns the machine state as last reported by the backend, or
// StateNull if the instance was never started
func (c *Controller) Status() types.MachineState {
	if c.mach == nil {
		return types.StateNull
	}
	return c.mach.State()
}

// vmName is the backend VM this instance maps to
func (c *Controller) vmName() string {
	return c.inst.Image
}

var whitespace = regexp.MustCompile(`\s+`)

// pipePath derives the host pipe endpoint for the serial console
func (c *Controller) pipePath() string {
	name := whitespace.ReplaceAllString(c.vmName(), "_")
	return filepath.Join(c.pipeDir, "pipe_"+name)
}

// Start drives the instance to the running state: resolve the machine,
// acquire an exclusive session, apply adapter and console configuration,
// then launch the VM process and await completion. Every backend call runs
// under its retry policy; a completion below 100% releases the session and
// fails the start.
func (c *Controller) Start() error {
	if c.backend == nil {
		return ErrNoBackend
	}

	c.logger.Info().Str("vm", c.vmName()).Msg("starting VM")

	mach, err := c.backend.FindMachine(c.vmName())
	if err != nil {
		metrics.StartsTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("could not find VM %s: %w", c.vmName(), err)
	}
	if mach.State().Online() {
		return ErrAlreadyRunning
	}
	c.mach = mach

	// The supported adapter count depends on the emulated chipset
	nics := c.inst.NICs
	if max, err := c.backend.MaxAdapters(mach.Chipset()); err == nil && nics > max {
		c.logger.Warn().Int("nics", nics).Int("max", max).Msg("clamping adapter count to chipset limit")
		nics = max
	}

	if err := c.acquireSession(); err != nil {
		metrics.StartsTotal.WithLabelValues("session_error").Inc()
		return err
	}

	plan := c.inst.AdapterPlan()
	if nics < len(plan) {
		plan = plan[:nics]
	}
	if err := c.policies.AdapterUnit.Do("net_options", func() error {
		return c.applyNetOptions(plan)
	}); err != nil {
		metrics.StartsTotal.WithLabelValues("net_error").Inc()
		c.session = nil
		return err
	}

	pipePath := ""
	if c.inst.ConsoleSupport {
		pipePath = c.pipePath()
	}
	if err := c.policies.ConsoleUnit.Do("console_options", func() error {
		return c.applyConsoleOptions(pipePath)
	}); err != nil {
		metrics.StartsTotal.WithLabelValues("console_error").Inc()
		c.session = nil
		return err
	}

	if err := c.launch(); err != nil {
		metrics.StartsTotal.WithLabelValues("launch_error").Inc()
		return err
	}

	// Tag the machine so other tools can map it back to the registry name
	if err := c.mach.SetGuestProperty("NameInGNS3", c.inst.Name); err != nil {
		c.logger.Debug().Err(err).Msg("could not set the guest property")
	}

	if c.inst.ConsoleSupport && c.inst.ConsolePort > 0 && c.inst.ConsoleTelnet {
		proxy, err := console.New(c.vmName(), pipePath, c.listenHost, c.inst.ConsolePort)
		if err != nil {
			// the VM is up, a dead console bridge does not fail the start
			c.logger.Error().Err(err).Msg("console proxy failed")
		} else {
			proxy.Start()
			c.proxy = proxy
		}
	}

	metrics.StartsTotal.WithLabelValues("ok").Inc()
	c.logger.Info().Str("vm", c.vmName()).Msg("VM started")
	return nil
}

// acquireSession obtains a fresh session object under the session policy
func (c *Controller) acquireSession() error {
	var session vbox.Session
	err := c.policies.Session.Do("get_session", func() error {
		s, err := c.backend.NewSession()
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot get session for %s: %w", c.vmName(), err)
	}
	c.session = session
	return nil
}

// launch starts the VM process and synchronously awaits completion. The
// wait itself has no timeout; the backend bounds it.
func (c *Controller) launch() error {
	mode := "gui"
	if c.inst.Headless {
		mode = "headless"
	}
	c.logger.Info().Str("mode", mode).Msg("launching VM process")

	var progress vbox.Progress
	err := c.policies.Launch.Do("launch", func() error {
		p, err := c.mach.Launch(c.session, mode)
		if err != nil {
			return err
		}
		progress = p
		return nil
	})
	if err != nil {
		c.session = nil
		return err
	}

	if err := progress.WaitForCompletion(-1); err != nil {
		c.unlockMachine()
		c.session = nil
		return fmt.Errorf("waiting for %s to launch: %w", c.vmName(), err)
	}
	if pct := progress.Percent(); pct != 100 {
		// Missing kernel driver, too little RAM, damaged disk or broken
		// network config all surface here. The machine must be unlocked or
		// it wedges the engine GUI.
		c.logger.Error().Int("percent", pct).Msg("VM failed to launch")
		c.unlockMachine()
		c.session = nil
		return fmt.Errorf("VM %s launch completed at %d%%", c.vmName(), pct)
	}

	cons, err := c.session.Console()
	if err != nil {
		c.unlockMachine()
		c.session = nil
		return fmt.Errorf("could not get the console session for %s: %w", c.vmName(), err)
	}
	c.console = cons
	return nil
}

// Stop powers the instance down and unconditionally cleans up: console proxy
// first, then every adapter is disabled and the configuration persisted under
// a fresh lock, then the session is released. Power-down failures are logged
// and swallowed so the registry can always converge to "stopped"; the only
// reported failure is being unable to lock the machine at all.
func (c *Controller) Stop() error {
	if c.proxy != nil {
		c.proxy.Stop()
		c.proxy = nil
	}

	if c.mach == nil {
		return nil
	}

	c.logger.Info().Str("vm", c.vmName()).Msg("stopping VM")

	if err := c.stop.PowerDown(c.vmName(), c.console); err != nil {
		c.logger.Warn().Err(err).Msg("power down failed, cleaning up anyway")
	}
	c.console = nil

	if c.session == nil {
		if err := c.acquireSession(); err != nil {
			return err
		}
	}
	if err := c.lockMachine(); err != nil {
		c.session = nil
		return fmt.Errorf("cannot lock machine %s for cleanup: %w", c.vmName(), err)
	}

	sm, err := c.session.Machine()
	if err != nil {
		c.logger.Error().Err(err).Msg("could not get the machine session, skipping shutdown of interfaces")
	} else {
		for slot := 0; slot < c.inst.NICs; slot++ {
			if err := c.disableAdapter(sm, slot); err != nil {
				c.logger.Error().Err(err).Int("slot", slot).Msg("could not disable network adapter")
			}
		}
		if err := sm.SaveSettings(); err != nil {
			c.logger.Error().Err(err).Msg("cannot save settings")
		}
	}

	c.unlockMachine()
	c.session = nil
	c.logger.Info().Str("vm", c.vmName()).Msg("VM stopped")
	return nil
}

// Suspend pauses a running instance. Single call, no retry.
func (c *Controller) Suspend() error {
	if c.console == nil {
		return ErrNotRunning
	}
	c.logger.Info().Msg("suspending VM")
	return c.console.Pause()
}

// Resume unpauses the instance. It verifies the machine really is paused
// first; resuming anything else is a reported no-op failure.
func (c *Controller) Resume() error {
	if c.console == nil {
		return ErrNotRunning
	}
	if c.mach.State() != types.StatePaused {
		return ErrNotPaused
	}
	c.logger.Info().Msg("resuming VM")
	return c.console.Resume()
}

// Reset reboots the instance, best-effort: a failure is recorded but the
// operation still reports success. A later status query reveals the actual
// state. Users killing the VM process out-of-band land here routinely.
func (c *Controller) Reset() error {
	if c.console == nil {
		return nil
	}
	c.logger.Info().Msg("resetting VM")
	progress, err := c.console.Reset()
	if err != nil {
		c.logger.Warn().Err(err).Msg("could not reset the VM")
		return nil
	}
	if err := progress.WaitForCompletion(-1); err != nil {
		c.logger.Warn().Err(err).Msg("could not reset the VM")
	}
	return nil
}
