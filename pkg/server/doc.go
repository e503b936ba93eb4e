/*
Package server implements the TCP line protocol spoken between GNS3 and
vboxwrapper.

The server accepts plain TCP connections and reads one request per line.
Each request names a module and a command followed by arguments; replies
carry a three-digit status code. The dispatcher validates module, command
and argument count before handing off to the command handler, so handlers
never see malformed input.

# Protocol

Requests are tokenized on whitespace with double-quote grouping:

	vbox create vbox "My VM"

Replies are lines of the form

	<code><sep><text>\r\n

where code is a three-digit status, and sep is "-" on the final line of a
reply or " " on informational lines preceding it. A command always ends in
exactly one final line. Codes 1xx report success, 2xx report errors.

# Request Flow

	┌────────────────────── REQUEST FLOW ──────────────────────┐
	│                                                           │
	│   TCP conn ──► read line ──► reply cache lookup           │
	│                                   │ miss                  │
	│                                   ▼                       │
	│                              tokenizer                    │
	│                                   │                       │
	│                                   ▼                       │
	│        module table ──► command table ──► arity check     │
	│                                   │                       │
	│                                   ▼                       │
	│                               handler                     │
	│                          (registry / backend)             │
	│                                   │                       │
	│                                   ▼                       │
	│                     reply writer + cache record           │
	└───────────────────────────────────────────────────────────┘

The reply cache holds the single most recent request/reply pair for one
second, absorbing the duplicate sends some GNS3 clients emit. A cache hit
replays the recorded reply and invalidates the slot, so at most one
duplicate is suppressed per request.

# Shutdown

Stop flags the accept loop, which polls the flag between accepts. Once the
loop exits the server stops every registered instance before returning
from ListenAndServe. The "vboxwrapper stop" protocol command triggers the
same path remotely.
*/
package server
