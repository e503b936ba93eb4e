package controller

import (
	"time"

	"github.com/GNS3/vboxwrapper/pkg/retry"
)

// Policies bundles the retry policies applied to fallible backend calls.
// The budgets follow operational experience with the engine API: launch and
// tunnel mutation fail fast and recover fast, adapter disable during stop is
// the most stubborn call and gets the largest budget.
type Policies struct {
	Session     retry.Policy // acquire a session object
	Lock        retry.Policy // lock a machine exclusively
	Unlock      retry.Policy // release the lock
	AdapterUnit retry.Policy // whole adapter configuration pass
	ConsoleUnit retry.Policy // whole serial console configuration pass
	Launch      retry.Policy // launch the VM process
	Capture     retry.Policy // enable traffic capture
	Tunnel      retry.Policy // runtime UDP tunnel mutation
	Disable     retry.Policy // disable one adapter during stop
}

// DefaultPolicies returns the production retry budgets
func DefaultPolicies() Policies {
	return Policies{
		Session:     retry.Policy{Attempts: 4, Delay: time.Second},
		Lock:        retry.Policy{Attempts: 4, Delay: time.Second},
		Unlock:      retry.Policy{Attempts: 4, Delay: time.Second},
		AdapterUnit: retry.Policy{Attempts: 4, Delay: time.Second},
		ConsoleUnit: retry.Policy{Attempts: 4, Delay: time.Second},
		Launch:      retry.Policy{Attempts: 4, Delay: 600 * time.Millisecond},
		Capture:     retry.Policy{Attempts: 4, Delay: 750 * time.Millisecond},
		Tunnel:      retry.Policy{Attempts: 4, Delay: 750 * time.Millisecond},
		Disable:     retry.Policy{Attempts: 6, Delay: time.Second},
	}
}

// FastPolicies keeps the attempt budgets but drops the delays. Used by tests
// so exhausted budgets do not stall the suite.
func FastPolicies() Policies {
	p := DefaultPolicies()
	for _, pol := range []*retry.Policy{
		&p.Session, &p.Lock, &p.Unlock, &p.AdapterUnit, &p.ConsoleUnit,
		&p.Launch, &p.Capture, &p.Tunnel, &p.Disable,
	} {
		pol.Delay = 0
	}
	return p
}
