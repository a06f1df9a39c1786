// Package hostconfig registers the task agent profile and the st permission
// with the OpenCode host.
//
// The same amendment is available for an in-memory config map (the host's
// config hook), for an on-disk opencode.json or opencode.jsonc, and as an
// agent markdown file. Every form is idempotent and leaves unrelated agents
// and permissions alone.
package hostconfig
