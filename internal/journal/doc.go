// Package journal persists engine sessions and light commands to SQLite
// (tables sessions and light_events, see migrations/).
package journal
