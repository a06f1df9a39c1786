// Package plugin attaches the injector to an OpenCode host.
//
// Host events are routed to the injector as fire-and-forget tasks: the
// handler that received the event returns at once and the task runs on a
// context detached from the host's cancellation. Panics inside a task are
// caught and logged. Drain waits for outstanding tasks at shutdown.
//
// Usage:
//
//	p, _ := plugin.New(plugin.Config{Injector: inj, Logger: logger})
//	go p.Run(ctx, client)
//	defer p.Drain()
package plugin
