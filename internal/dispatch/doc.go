// Package dispatch accepts externally arriving work and hands it to the
// worker pool through the shared bounded queue.
//
// A Listener pulls one unit at a time from a Source and pushes it into the
// queue. When the queue is full the unit is handed to a RejectFunc right away;
// the listener never blocks on a full queue and keeps no secondary backlog.
//
// TCPSource adapts a TCP listener: each accepted connection becomes a *Conn
// tagged with a session id, and CloseReject closes connections that could not
// be queued. ChanSource adapts a Go channel for in-process producers.
//
// The listener checks the shared stop flag between accepts. Sources return
// ErrNoWork when nothing arrived within their poll interval so that the check
// happens on a bounded cadence.
package dispatch
