// Package services wires the collaborators shared by every way of running a
// trajectory document: the CLI, the HTTP API and the Temporal worker.
//
// A Registry holds the store, logger, document resolver and the default
// agent under test. RunDocument builds the document, resolves its agent and
// drives a fresh orchestrator to a result.
package services
