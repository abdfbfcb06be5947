// Package protocol is the vocabulary exchanged between an engine and its
// controller: the message envelope, verb and topic names, typed payloads,
// and the value model used for results.
//
// The package imports nothing internal. Transports move Messages without
// looking inside them; the engine and its controllers agree on payloads
// through the types defined here.
//
// Canonical JSON (MarshalCanonical) is used wherever bytes are compared or
// stored: journal records and golden transcripts.
package protocol
