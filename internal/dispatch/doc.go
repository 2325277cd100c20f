// Package dispatch hands accepted connections and UDP flows to named
// processing modules.
//
// Modules register a [Factory] under a name in a [Registry]. The composition
// root resolves each listener's module once at startup; an unknown name or a
// failing factory surfaces as [ErrModuleUnavailable] for that listener only.
//
// Every accepted TCP connection and every new UDP flow gets a fresh
// [ConnContext] before the module's [Handler] runs. The context is owned by
// the goroutine serving that connection and is never shared.
//
// UDP sockets are demultiplexed by source address. Each flow is presented to
// the handler as a net.Conn whose reads return one datagram and whose writes
// reply to the flow's source, so modules are written once for both transports.
package dispatch
