/*
Package registry tracks the set of managed VM instances.

The registry maps instance names to their configuration and controller.
It owns the locking model: a read-write mutex guards the name table, and
each entry carries its own mutex serializing lifecycle operations on that
instance. Commands on different instances run in parallel; commands on the
same instance never overlap.

Entry.Do is the only way to reach an instance's state:

	entry, ok := reg.Get("R1")
	if ok {
		err := entry.Do(func(inst *types.Instance, ctl *controller.Controller) error {
			return ctl.Start()
		})
	}

Deletion stops a running instance first and leaves it registered if the
stop fails, so a VM is never orphaned with a live process. SetAttr applies
client-settable attributes through a typed allow-list; unknown attributes
and unparsable values are rejected without mutating the instance.
*/
package registry
