// Package transport defines the contract shared by every go-casperfpga backend.
//
// A Transport moves bytes to and from named memory-mapped devices on a remote
// FPGA board and reports the board's connectivity and programmed state. Two
// backends implement it:
//
//   - katcp: a KATCP protocol client talking directly to the board.
//   - remotepcie: a REST client talking to an HTTP gateway that owns a PCIe-attached card.
//
// Callers hold a Transport value and never branch on the backend behind it.
//
// # Validation
//
// Request validation happens at the contract boundary, before any wire work:
//
//   - ValidateDevice rejects empty device names.
//   - ValidateRead rejects non-positive sizes and negative offsets.
//   - ValidateWrite enforces 32-bit word alignment of both offset and length.
//   - ValidateImagePath requires the ".fpg" extension for reconfiguration images.
//
// # Errors
//
// Every failure returned by a backend belongs to exactly one kind and can be
// detected with errors.Is against ErrTimeout, ErrConfig, ErrRemote or
// ErrValidation, or extracted with errors.As into the matching typed error.
package transport
