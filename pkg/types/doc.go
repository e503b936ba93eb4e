/*
Package types defines the core data structures used throughout vboxwrapper.

This package contains the fundamental types that describe managed VirtualBox
instances: machine power states, network adapter models and attachment kinds,
UDP tunnel endpoints and per-instance configuration. Types here carry no
behavior beyond validation and small derivations so that every other package
can depend on them without cycles.

# Type Categories

Machine states:
  - MachineState: the VirtualBox power state ladder (Null through Error)
  - Online states: Starting..Stopping bracket the states in which a machine
    has a live process and cannot be reconfigured

Network model:
  - AdapterType: the emulated network card (PCnet, E1000, virtio variants)
  - Attachment: how an adapter is wired (Null / UDP tunnel)
  - AdapterConfig: per-slot plan combining type, tunnel and capture file
  - UDPTunnelConfig: local port, remote host and remote port of one tunnel

Instances:
  - Instance: everything the daemon knows about one managed VM, including
    its VirtualBox machine name, adapter count and card model, console
    settings and per-slot tunnel/capture maps

# Usage

Creating an instance and deriving its adapter plan:

	inst := types.NewInstance("R1", "/tmp")
	inst.Image = "debian-11"
	inst.NICs = 4
	inst.UDP[0] = &types.UDPTunnelConfig{
		LocalPort:  10000,
		RemoteHost: "127.0.0.1",
		RemotePort: 10001,
	}

	for slot, ac := range inst.AdapterPlan() {
		// ac.Tunnel is nil for detached slots
		_ = slot
	}

# Design Principles

 1. No behavior: types validate and derive, they never touch the hypervisor
 2. Maps over slices for sparse per-slot config (tunnels, captures)
 3. String models map to typed constants once, at the edge
*/
package types
