// Package server runs the postal lookup service.
//
// A Server binds a TCP listener, creates the shared connection queue and
// starts a fixed pool of workers. The listener goroutine pushes every
// accepted connection into the queue and closes it right away when the queue
// is full; each worker pops one connection at a time and serves one lookup
// session on it.
//
// # Basic Usage
//
//	db, err := postal.LoadFile("KEN_ALL.CSV")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s := server.New(server.DefaultConfig(), db)
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Stop()
//
// # Shutdown
//
// Stop sets the shared stop flag, waits for the listener and then for every
// worker to return, and only then destroys the queue. Connections
// still waiting in the queue at that point are closed unserved.
package server
