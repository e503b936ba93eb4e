package controller

import (
	"fmt"
	"strconv"

	"github.com/GNS3/vboxwrapper/pkg/types"
	"github.com/GNS3/vboxwrapper/pkg/vbox"
)

// withLockedMachine runs fn against the mutable machine view under an
// exclusive lock, releasing the lock on every exit path.
func (c *Controller) withLockedMachine(fn func(sm vbox.SessionMachine) error) error {
	if err := c.lockMachine(); err != nil {
		return err
	}
	defer c.unlockMachine()

	sm, err := c.session.Machine()
	if err != nil {
		return fmt.Errorf("could not get the machine session for %s: %w", c.vmName(), err)
	}
	return fn(sm)
}

func (c *Controller) lockMachine() error {
	return c.policies.Lock.Do("lock_machine", func() error {
		return c.mach.Lock(c.session)
	})
}

func (c *Controller) unlockMachine() {
	if c.session == nil {
		return
	}
	// errors here leave the engine lock to expire on its own; nothing more
	// can be done about them
	_ = c.policies.Unlock.Do("unlock_machine", func() error {
		return c.session.Unlock()
	})
}

// applyNetOptions configures every adapter slot in the plan: tunnel slots
// attach UDP with the cable up, bare slots are detached with the cable down,
// capture slots additionally get traffic tracing.
func (c *Controller) applyNetOptions(plan []types.AdapterConfig) error {
	c.logger.Info().Msg("setting network options")

	return c.withLockedMachine(func(sm vbox.SessionMachine) error {
		// the sentinel "Automatic" mirrors the management adapter's type
		mgmtType := types.AdapterI82540EM
		if mgmt, err := sm.Adapter(0); err == nil {
			if t, err := mgmt.Type(); err == nil {
				mgmtType = t
			}
		}

		for slot, cfg := range plan {
			adp, err := sm.Adapter(slot)
			if err != nil {
				return fmt.Errorf("adapter %d: %w", slot, err)
			}

			hw := cfg.HardwareType
			if hw == types.AdapterAutomatic {
				hw = mgmtType
			}
			if err := adp.SetType(hw); err != nil {
				return fmt.Errorf("adapter %d type: %w", slot, err)
			}

			if cfg.UDP != nil {
				if err := attachTunnel(adp, cfg.UDP); err != nil {
					return fmt.Errorf("adapter %d tunnel: %w", slot, err)
				}
			} else {
				if err := detachAdapter(adp); err != nil {
					return fmt.Errorf("adapter %d detach: %w", slot, err)
				}
			}

			if cfg.CaptureFile != "" {
				if err := c.enableCapture(adp, cfg.CaptureFile); err != nil {
					return fmt.Errorf("adapter %d capture: %w", slot, err)
				}
			}
		}
		return sm.SaveSettings()
	})
}

// attachTunnel wires an adapter into its UDP endpoint pair
func attachTunnel(adp vbox.Adapter, udp *types.UDPTunnelConfig) error {
	if err := adp.SetEnabled(true); err != nil {
		return err
	}
	if err := adp.SetCableConnected(true); err != nil {
		return err
	}
	if err := adp.Attach(types.AttachmentUDPTunnel); err != nil {
		return err
	}
	return setTunnelEndpoints(adp, udp)
}

// setTunnelEndpoints writes the three tunnel driver properties. The tunnel
// driver cannot resolve DNS names, so a "localhost" destination is rewritten
// to the loopback literal.
func setTunnelEndpoints(adp vbox.Adapter, udp *types.UDPTunnelConfig) error {
	dest := udp.RemoteHost
	if dest == "localhost" {
		dest = "127.0.0.1"
	}
	if err := adp.SetTunnelProperty("sport", strconv.Itoa(udp.LocalPort)); err != nil {
		return err
	}
	if err := adp.SetTunnelProperty("dest", dest); err != nil {
		return err
	}
	return adp.SetTunnelProperty("dport", strconv.Itoa(udp.RemotePort))
}

// detachAdapter leaves the slot present but inert: enabled, nothing attached,
// cable down
func detachAdapter(adp vbox.Adapter) error {
	if err := adp.SetEnabled(true); err != nil {
		return err
	}
	if err := adp.Attach(types.AttachmentNull); err != nil {
		return err
	}
	return adp.SetCableConnected(false)
}

// enableCapture turns on traffic tracing to a file. This call fails more
// often than the rest of the adapter API and gets its own retry budget.
func (c *Controller) enableCapture(adp vbox.Adapter, path string) error {
	c.logger.Debug().Str("file", path).Msg("enabling capture")
	return c.policies.Capture.Do("enable_capture", func() error {
		if err := adp.SetTraceEnabled(true); err != nil {
			return err
		}
		return adp.SetTraceFile(path)
	})
}

// disableAdapter shuts one slot down during stop: tracing off, detached,
// disabled
func (c *Controller) disableAdapter(sm vbox.SessionMachine, slot int) error {
	return c.policies.Disable.Do("disable_adapter", func() error {
		adp, err := sm.Adapter(slot)
		if err != nil {
			return err
		}
		if err := adp.SetTraceEnabled(false); err != nil {
			return err
		}
		if err := adp.Attach(types.AttachmentNull); err != nil {
			return err
		}
		return adp.SetEnabled(false)
	})
}

// applyConsoleOptions points serial port 0 at the host pipe, or disables it
// when path is empty
func (c *Controller) applyConsoleOptions(path string) error {
	c.logger.Info().Msg("setting console options")
	return c.withLockedMachine(func(sm vbox.SessionMachine) error {
		if err := sm.ConfigureSerialConsole(path); err != nil {
			return err
		}
		return sm.SaveSettings()
	})
}

// CreateUDP applies a UDP tunnel to a slot of a running machine. Offline
// machines only record the configuration; it is applied on the next start.
// Each attempt detaches first and persists between the two attachment writes,
// which is what the engine needs to pick the change up at runtime.
func (c *Controller) CreateUDP(slot int, udp *types.UDPTunnelConfig) error {
	if c.mach == nil || !c.mach.State().Online() {
		return nil
	}
	return c.policies.Tunnel.Do("create_udp", func() error {
		sm, err := c.session.Machine()
		if err != nil {
			return err
		}
		adp, err := sm.Adapter(slot)
		if err != nil {
			return err
		}
		if err := adp.SetCableConnected(true); err != nil {
			return err
		}
		if err := adp.Attach(types.AttachmentNull); err != nil {
			return err
		}
		if err := sm.SaveSettings(); err != nil {
			return err
		}
		if err := adp.Attach(types.AttachmentUDPTunnel); err != nil {
			return err
		}
		if err := setTunnelEndpoints(adp, udp); err != nil {
			return err
		}
		return sm.SaveSettings()
	})
}

// DeleteUDP is the inverse of CreateUDP: detach and persist
func (c *Controller) DeleteUDP(slot int) error {
	if c.mach == nil || !c.mach.State().Online() {
		return nil
	}
	return c.policies.Tunnel.Do("delete_udp", func() error {
		sm, err := c.session.Machine()
		if err != nil {
			return err
		}
		adp, err := sm.Adapter(slot)
		if err != nil {
			return err
		}
		if err := adp.Attach(types.AttachmentNull); err != nil {
			return err
		}
		if err := adp.SetCableConnected(false); err != nil {
			return err
		}
		return sm.SaveSettings()
	})
}
