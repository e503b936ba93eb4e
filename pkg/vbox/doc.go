/*
Package vbox abstracts the VirtualBox hypervisor API.

The package defines narrow interfaces mirroring the objects the daemon
touches: the Backend entry point, Machine handles, write Sessions,
mutable SessionMachines, network Adapters, the runtime Console and async
Progress objects. Errors the daemon reacts to are surfaced as sentinels
(ErrNotReady for transient COM/XPCOM busy states, ErrMachineNotFound,
ErrSessionHeld, ErrUnavailable).

Connect probes for a local VirtualBox installation and returns the live
backend, or ErrUnavailable when none is present. The Fake backend
implements the full interface set in memory, with per-operation failure
injection for exercising retry paths in tests.
*/
package vbox
