// Package conversation defines the message model shared by the simulated user,
// the agent under test, and the recorded traces.
//
// A Message is role-tagged (system, user, assistant, tool) and carries either
// plain text or a sequence of typed parts:
//
//   - text: free text
//   - tool-call: {id, name, args} emitted by an assistant
//   - tool-result: {id, result} answering a previous tool call
//
// Messages marshal to JSON with content as a plain string when they hold a
// single text part, and as an array of parts otherwise. Both shapes are
// accepted when unmarshaling, which keeps fixtures hand-writable.
//
// The package also defines Record, the canonical conversation shape handed to
// persistence: one input/output Exchange per recorded turn.
package conversation
