// Package bridge is the Matrix frontend for postbox.
//
// The bridge runs a sync loop against the homeserver, parses prefixed
// commands out of room messages, and dispatches them to the command
// handlers. Every reply, and every piece of delivered mail, goes out as
// a direct message so nothing sensitive lands in a shared room.
package bridge
