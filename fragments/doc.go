// Package fragments provides low-level encoding and decoding helpers
// for DBus wire format values.
//
// The encoder and decoder handle alignment and framing only. They do
// not know about DBus types or signatures: it is the caller's
// responsibility to emit and consume values in the order a signature
// dictates.
package fragments
