/*
Package metrics provides Prometheus metrics collection and exposition for
vboxwrapper.

The metrics package defines and registers all vboxwrapper metrics using the
Prometheus client library, providing observability into protocol traffic,
instance lifecycle and hypervisor backend behavior. Metrics are exposed via
an HTTP endpoint for scraping by Prometheus servers, next to a component
health endpoint.

# Architecture

Metrics follow Prometheus conventions with package-level collectors
registered at init:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                │           │
	│  │                                            │           │
	│  │  Protocol: command count, duration,        │           │
	│  │    active connections, reply cache hits    │           │
	│  │  Instances: registered, running, starts    │           │
	│  │  Backend: retry count per operation        │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Endpoints                    │           │
	│  │  - /metrics: Prometheus text exposition    │           │
	│  │  - /health:  component health JSON         │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Counters:
  - CommandsTotal: protocol commands by module, command and reply code
  - ReplyCacheHitsTotal: duplicate requests answered from the reply cache
  - BackendRetriesTotal: hypervisor calls retried, by operation
  - StartsTotal: VM start attempts by outcome

Gauges:
  - ActiveConnections: currently open control connections
  - InstancesRegistered: instances known to the registry
  - InstancesRunning: instances with a live VM process

Histograms:
  - CommandDuration: handler latency by module and command

# Usage

Timing a command handler:

	timer := metrics.NewTimer()
	handler(c, args)
	timer.ObserveDurationVec(metrics.CommandDuration, module, command)

Serving the endpoints:

	go metrics.Serve(":9090")

# Health Checking

The health checker tracks per-component status and serves an aggregate
verdict on /health. Components register once and update their status as
conditions change:

	metrics.RegisterComponent("server", true, "accepting connections")
	metrics.UpdateComponent("vbox", false, "VirtualBox API unavailable")
*/
package metrics
