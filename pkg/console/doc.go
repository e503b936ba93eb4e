/*
Package console bridges a VM's serial pipe to a TCP listener.

VirtualBox exposes a guest's serial port as a host pipe. The Proxy listens
on a TCP port, accepts one telnet client at a time and copies bytes both
ways between the client and the pipe, giving GNS3 users console access to
the guest. Stop tears the bridge down in order (listener, client, pipe)
and waits for the serve loop to exit.
*/
package console
