// Package injector decides when a session needs the issue tracker's priming
// context and delivers it.
//
// A session is injected once on its first message and again after every
// history compaction. Detection uses an in-process Tracker first and falls
// back to scanning recent history for the context marker, so restarts and
// duplicate host events do not inject twice. Failures never propagate to the
// host; every handler returns a Result describing what happened.
package injector
