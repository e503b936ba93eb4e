/*
Package retry provides fixed-delay retry policies for hypervisor calls.

The VirtualBox API frequently fails transiently while a machine settles
between states. Policy captures an attempt budget and inter-attempt delay;
Do runs an operation under a policy, logging and counting each retry.
Wrapping an error with Permanent aborts the remaining attempts.
*/
package retry
