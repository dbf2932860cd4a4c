// Package hub is the client for the CRM tool-hosting service.
//
// The hub exposes two JSON-RPC operations: tools/list returns the tool
// descriptors the CRM currently offers (hyphenated wire names with JSON
// Schema arguments), and tools/call invokes one of them. Discovered
// tools are renamed into the flat crm_ namespace before they are shown
// to the model; when discovery fails the static fallback set keeps the
// agent loop supplied with basic CRM capability.
package hub
