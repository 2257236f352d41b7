// Package katcp implements the KATCP transport for CASPER FPGA boards.
//
// KATCP is a line-based request/reply protocol. Each line is a request
// ("?name"), a reply ("!name") or an inform ("#name"), optionally tagged with a
// message identifier ("?read[7]"), followed by space separated, escaped arguments:
//
//	?read[7] sys_scratchpad 0 4
//	!read[7] ok \0\0\0\1
//
// # Sessions
//
// Connect performs the handshake: it dials the board and waits for the
// "#version-connect katcp-protocol 5.x" inform, all under one hard deadline.
// When the deadline elapses a *TimeoutError is returned, which matches both
// ErrTimeout and transport.ErrTimeout. A Session moves along
//
//	Unconnected -> Connecting -> Connected -> (Closed | Failed)
//
// and is never re-established: a request timeout or I/O failure invalidates it,
// and the caller must create a new transport. The one exception is the
// ?watchdog liveness check, whose timeout leaves the session usable.
//
// # Transport
//
// Transport adapts a Session to transport.Transport:
//
//   - Read:                  ?read <device> <offset> <size>
//   - BlindWrite:            ?write <device> <offset> <data>
//   - ListDev:               ?listdev, one #listdev inform per device
//   - IsConnected:           ?watchdog, retried
//   - IsProgrammed/Running:  ?fpgastatus
//   - UploadToRAMAndProgram: ?progremote <port>, image streamed to <host>:<port>
//
// TestHostType classifies whether an address speaks KATCP by opening and
// immediately closing a throwaway session.
package katcp
