// Package observations persists the engine's diagnostic trail: raw frames
// the interpreter could not classify and an audit record for every
// dispatched command.
//
// The store is diagnostics only. Nothing here is ever read back into
// device state; its consumers are the diagnostics API and a human with a
// sqlite3 shell chasing a protocol quirk.
package observations
