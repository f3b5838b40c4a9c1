// Package loadgen provides a load generator for the postal lookup server.
//
// A Client opens a configurable number of lookup sessions against a server,
// a bounded number at a time. Session numbers flow through the same bounded
// queue and worker pool the server uses; the producer retries a push until
// the queue has room, so no session is ever dropped on the client side.
//
// Each session is classified as served, rejected or failed. A connection that
// is closed before the prompt arrives counts as rejected, which is how the
// server signals that its own queue was full.
//
// # Basic Usage
//
//	config, _ := loadgen.GetPreset("burst")
//	config.Addr = "127.0.0.1:25000"
//
//	result, err := loadgen.New(config).Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package loadgen
