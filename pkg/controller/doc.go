/*
Package controller drives the lifecycle of one VirtualBox instance.

A Controller owns the runtime state of a single VM: the machine handle,
its write session, the console object and the optional serial console
proxy. It translates the daemon's high-level operations (start, stop,
suspend, resume, reset, tunnel changes) into sequences of hypervisor calls,
wrapped in retry policies that absorb the transient "not ready" errors the
VirtualBox API raises while a machine settles.

# Lifecycle

Start configures network adapters and the serial console under a write
session, launches the VM and waits for the launch progress to complete.
Stop powers the machine down through the configured StopStrategy, then
always runs cleanup: reacquiring a session if needed, disabling every
adapter and releasing the lock. Cleanup proceeds across adapter slots even
when individual calls fail, so a wedged hypervisor cannot leave adapters
attached.

# Retry Policies

Every class of hypervisor call has its own retry budget in Policies
(session acquisition, machine lock, launch, capture setup, runtime tunnel
changes, adapter disable). Tests inject FastPolicies to strip the delays.

# Stop Strategies

GracefulStop powers down through the console API and waits for completion.
KillStop shells out to VBoxManage controlvm poweroff, working around hosts
where the in-process power-down wedges. DefaultStopStrategy picks per
platform.

All Controller methods must run under the owning registry entry's lock;
the controller performs no synchronization of its own.
*/
package controller
