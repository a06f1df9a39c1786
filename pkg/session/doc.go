// Package session is a file-backed stand-in for the host's session API.
//
// Each session is a JSONL file of host messages. The Store implements
// history reads, message delivery and the host event stream, so the
// injector can run against local sessions without an OpenCode server.
//
// Invariants:
// - Session IDs are validated and path-safe.
// - Writes for the same session are serialized.
// - Events are derived from the files, so writers in other processes
//   sharing the directory are observed.
//
// Usage:
//
//	store, _ := session.New(session.Config{Dir: "/tmp/sterna/sessions"})
//	_, _ = store.Append(ctx, host.Message{SessionID: "ses_1", Role: host.RoleUser})
//	messages, _ := store.Messages(ctx, "ses_1", 50)
//	_ = messages
package session
