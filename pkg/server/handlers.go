package server

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/GNS3/vboxwrapper/pkg/controller"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
	"github.com/GNS3/vboxwrapper/pkg/registry"
	"github.com/GNS3/vboxwrapper/pkg/types"
)

// commandTable declares every command with its argument range and handler.
// Dispatch validates the range before the handler runs, so handlers may
// index args freely.
func (s *Server) commandTable() map[string]map[string]command {
	return map[string]map[string]command{
		"vboxwrapper": {
			"version":     {0, 0, s.wrapperVersion},
			"parser_test": {0, 10, s.parserTest},
			"module_list": {0, 0, s.moduleList},
			"cmd_list":    {1, 1, s.cmdList},
			"working_dir": {1, 1, s.workingDir},
			"reset":       {0, 0, s.wrapperReset},
			"close":       {0, 0, s.wrapperClose},
			"stop":        {0, 0, s.wrapperStop},
		},
		"vbox": {
			"version":        {0, 0, s.vboxVersion},
			"vm_list":        {0, 0, s.vmList},
			"find_vm":        {1, 1, s.findVM},
			"rename":         {2, 2, s.rename},
			"create":         {2, 2, s.create},
			"delete":         {1, 1, s.delete},
			"setattr":        {3, 3, s.setAttr},
			"create_nic":     {2, 2, s.createNIC},
			"create_udp":     {5, 5, s.createUDP},
			"delete_udp":     {2, 2, s.deleteUDP},
			"create_capture": {3, 3, s.createCapture},
			"delete_capture": {2, 2, s.deleteCapture},
			"start":          {1, 1, s.start},
			"stop":           {1, 1, s.stop},
			"reset":          {1, 1, s.reset},
			"status":         {1, 1, s.status},
			"suspend":        {1, 1, s.suspend},
			"resume":         {1, 1, s.resume},
			"clean":          {1, 1, s.clean},
		},
	}
}

// --- vboxwrapper module ---

func (s *Server) wrapperVersion(c *conn, args []string) {
	c.reply(codeOK, true, s.cfg.Version)
}

func (s *Server) parserTest(c *conn, args []string) {
	for i, arg := range args {
		c.reply(codeInfoMsg, false, fmt.Sprintf("arg %d (len %d): \"%s\"", i, len(arg), arg))
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) moduleList(c *conn, args []string) {
	modules := make([]string, 0, len(s.commands))
	for name := range s.commands {
		modules = append(modules, name)
	}
	sort.Strings(modules)
	for _, name := range modules {
		c.reply(codeInfoMsg, false, name)
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) cmdList(c *conn, args []string) {
	mod, ok := s.commands[args[0]]
	if !ok {
		c.reply(codeErrUnkModule, true, fmt.Sprintf("unknown module '%s'", args[0]))
		return
	}
	names := make([]string, 0, len(mod))
	for name := range mod {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := mod[name]
		c.reply(codeInfoMsg, false, fmt.Sprintf("%s (min/max args: %d/%d)", name, cmd.min, cmd.max))
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) workingDir(c *conn, args []string) {
	dir := args[0]
	if err := os.Chdir(dir); err != nil {
		c.reply(codeErrInvParam, true, fmt.Sprintf("chdir: %v", err))
		return
	}
	s.reg.SetWorkdir(dir)
	c.reply(codeOK, true, "OK")
}

func (s *Server) wrapperReset(c *conn, args []string) {
	s.reg.Shutdown()
	s.updateRunningGauge()
	c.reply(codeOK, true, "OK")
}

func (s *Server) wrapperClose(c *conn, args []string) {
	c.reply(codeOK, true, "OK")
	c.closing = true
}

func (s *Server) wrapperStop(c *conn, args []string) {
	c.reply(codeOK, true, "OK")
	c.closing = true
	s.Stop()
}

// --- vbox module ---

func (s *Server) vboxVersion(c *conn, args []string) {
	if s.backend == nil {
		c.reply(codeErrBadObj, true, "Failed to load the VirtualBox API, please check your VirtualBox installation.")
		return
	}
	version, err := s.backend.Version()
	if err != nil {
		c.reply(codeErrBadObj, true, fmt.Sprintf("unable to query the VirtualBox version: %v", err))
		return
	}
	if !versionAtLeast(version, s.cfg.RequiredVersion) {
		c.reply(codeErrBadObj, true, fmt.Sprintf(
			"Detected VirtualBox version %s, which is too old. Minimum required is: %s",
			version, s.cfg.RequiredVersion))
		return
	}
	c.reply(codeOK, true, version)
}

// versionAtLeast compares the major.minor prefix of detected against the
// required version
func versionAtLeast(detected, required string) bool {
	if required == "" {
		return true
	}
	dMaj, dMin := splitVersion(detected)
	rMaj, rMin := splitVersion(required)
	if dMaj != rMaj {
		return dMaj > rMaj
	}
	return dMin >= rMin
}

func splitVersion(v string) (major, minor int) {
	parts := strings.Split(v, ".")
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

func (s *Server) vmList(c *conn, args []string) {
	if s.backend != nil {
		if names, err := s.backend.MachineNames(); err == nil {
			for _, name := range names {
				c.reply(codeInfoMsg, false, name)
			}
		}
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) findVM(c *conn, args []string) {
	name := args[0]
	if s.backend == nil {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find vm %s", name))
		return
	}
	if _, err := s.backend.FindMachine(name); err != nil {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find vm %s", name))
		return
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) create(c *conn, args []string) {
	devType, name := args[0], args[1]
	if err := s.reg.Create(devType, name); err != nil {
		c.logger.Error().Err(err).Str("instance", name).Msg("create failed")
		c.reply(codeErrCreate, true, fmt.Sprintf("Unable to create VBox instance '%s'", name))
		return
	}
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' created", name))
}

func (s *Server) rename(c *conn, args []string) {
	oldName, newName := args[0], args[1]
	if err := s.reg.Rename(oldName, newName); err != nil {
		c.reply(codeErrCreate, true, fmt.Sprintf("Unable to rename VBox instance from '%s'", oldName))
		return
	}
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' renamed to '%s'", oldName, newName))
}

func (s *Server) delete(c *conn, args []string) {
	name := args[0]
	if err := s.reg.Delete(name); err != nil {
		c.logger.Error().Err(err).Str("instance", name).Msg("delete failed")
		c.reply(codeErrDelete, true, fmt.Sprintf("unable to delete VBox instance '%s'", name))
		return
	}
	s.updateRunningGauge()
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' deleted", name))
}

func (s *Server) setAttr(c *conn, args []string) {
	name, attr, value := args[0], args[1], args[2]
	err := s.reg.SetAttr(name, attr, value)
	switch {
	case err == nil:
		c.reply(codeOK, true, fmt.Sprintf("%s set for '%s'", attr, name))
	case errors.Is(err, registry.ErrNotFound):
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
	case errors.Is(err, registry.ErrUnknownAttr):
		c.reply(codeErrUnkObj, true, fmt.Sprintf("Cannot set attribute '%s' for '%s'", attr, name))
	default:
		c.reply(codeErrInvParam, true, fmt.Sprintf("invalid value for attribute '%s'", attr))
	}
}

func (s *Server) createNIC(c *conn, args []string) {
	if _, ok := s.reg.Get(args[0]); !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", args[0]))
		return
	}
	// NIC slots are implicit in the instance's nics attribute; the command
	// is accepted for client compatibility
	c.reply(codeOK, true, "OK")
}

// parseSlot validates a slot argument against the instance's adapter range
func parseSlot(inst *types.Instance, arg string) (int, error) {
	slot, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid adapter slot %q", arg)
	}
	if slot < 0 || slot >= inst.NICs {
		return 0, fmt.Errorf("adapter slot %d out of range (nics=%d)", slot, inst.NICs)
	}
	return slot, nil
}

func (s *Server) createUDP(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}

	sport, err1 := strconv.Atoi(args[2])
	dport, err2 := strconv.Atoi(args[4])
	if err1 != nil || err2 != nil {
		c.reply(codeErrInvParam, true, "invalid UDP port")
		return
	}
	daddr := args[3]

	err := entry.Do(func(inst *types.Instance, ctl *controller.Controller) error {
		slot, err := parseSlot(inst, args[1])
		if err != nil {
			return err
		}
		udp := &types.UDPTunnelConfig{
			LocalPort:  sport,
			RemoteHost: daddr,
			RemotePort: dport,
		}
		udp.ResolveRemoteHost()
		if err := ctl.CreateUDP(slot, udp); err != nil {
			return err
		}
		inst.UDP[slot] = udp
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("instance", name).Msg("create_udp failed")
		c.reply(codeErrCreate, true, fmt.Sprintf("unable to create UDP connection '%s'", args[1]))
		return
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) deleteUDP(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}

	err := entry.Do(func(inst *types.Instance, ctl *controller.Controller) error {
		slot, err := parseSlot(inst, args[1])
		if err != nil {
			return err
		}
		if err := ctl.DeleteUDP(slot); err != nil {
			return err
		}
		delete(inst.UDP, slot)
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("instance", name).Msg("delete_udp failed")
		c.reply(codeErrDelete, true, fmt.Sprintf("unable to delete UDP connection '%s'", args[1]))
		return
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) createCapture(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(inst *types.Instance, _ *controller.Controller) error {
		slot, err := parseSlot(inst, args[1])
		if err != nil {
			return err
		}
		// applied on the next start
		inst.Captures[slot] = args[2]
		return nil
	})
	if err != nil {
		c.reply(codeErrInvParam, true, err.Error())
		return
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) deleteCapture(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(inst *types.Instance, _ *controller.Controller) error {
		slot, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid adapter slot %q", args[1])
		}
		delete(inst.Captures, slot)
		return nil
	})
	if err != nil {
		c.reply(codeErrInvParam, true, err.Error())
		return
	}
	c.reply(codeOK, true, "OK")
}

func (s *Server) start(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
		return ctl.Start()
	})
	if err != nil {
		c.logger.Error().Err(err).Str("instance", name).Msg("start failed")
		c.reply(codeErrStart, true, fmt.Sprintf("unable to start instance '%s'", name))
		return
	}
	s.updateRunningGauge()
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' started", name))
}

func (s *Server) stop(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
		return ctl.Stop()
	})
	if err != nil {
		c.logger.Error().Err(err).Str("instance", name).Msg("stop failed")
		c.reply(codeErrStop, true, fmt.Sprintf("unable to stop instance '%s'", name))
		return
	}
	s.updateRunningGauge()
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' stopped", name))
}

func (s *Server) reset(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
		return ctl.Reset()
	})
	if err != nil {
		c.reply(codeErrStop, true, fmt.Sprintf("unable to reset instance '%s'", name))
		return
	}
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' rebooted", name))
}

func (s *Server) status(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	var state types.MachineState
	_ = entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
		state = ctl.Status()
		return nil
	})
	c.reply(codeOK, true, strconv.Itoa(int(state)))
}

func (s *Server) suspend(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
		return ctl.Suspend()
	})
	if err != nil {
		c.reply(codeErrStop, true, fmt.Sprintf("unable to suspend instance '%s'", name))
		return
	}
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' suspended", name))
}

func (s *Server) resume(c *conn, args []string) {
	name := args[0]
	entry, ok := s.reg.Get(name)
	if !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", name))
		return
	}
	err := entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
		return ctl.Resume()
	})
	if err != nil {
		c.reply(codeErrStop, true, fmt.Sprintf("unable to resume instance '%s'", name))
		return
	}
	c.reply(codeOK, true, fmt.Sprintf("VBox '%s' resumed", name))
}

func (s *Server) clean(c *conn, args []string) {
	if _, ok := s.reg.Get(args[0]); !ok {
		c.reply(codeErrUnkObj, true, fmt.Sprintf("unable to find VBox '%s'", args[0]))
		return
	}
	c.reply(codeOK, true, "OK")
}

// updateRunningGauge recounts instances with a live process
func (s *Server) updateRunningGauge() {
	running := 0
	for _, name := range s.reg.Names() {
		entry, ok := s.reg.Get(name)
		if !ok {
			continue
		}
		_ = entry.Do(func(_ *types.Instance, ctl *controller.Controller) error {
			if ctl.Running() {
				running++
			}
			return nil
		})
	}
	metrics.InstancesRunning.Set(float64(running))
}
