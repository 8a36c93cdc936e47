package main

import (
	"fmt"
	"net"

	"github.com/enotvtapke/virtual-machines-cub/server"
	"github.com/enotvtapke/virtual-machines-cub/store"
)

// serveCommand processes the `lamavm serve` subcommand.
func (e *env) serveCommand(args []string) int {
	fs := e.newFlagSet("serve", "[options]")
	addr := fs.String("addr", e.cfg.Server.Addr, "Connect (HTTP/JSON) listen address")
	grpcAddr := fs.String("grpc-addr", "", "gRPC listen address (empty = no gRPC listener)")
	workers := fs.Int("workers", e.cfg.Server.Workers, "Maximum number of concurrent runs")
	noSave := fs.Bool("no-save", false, "Do not save run reports to the run history")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	opts := []server.ServerOption{
		server.WithWorkers(*workers),
		server.WithFixtureDir(e.cfg.FixtureDir()),
		server.WithStepLimit(e.cfg.Run.StepLimit),
	}
	if !*noSave {
		st, err := store.Open(e.cfg.DatabasePath())
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
	}

	srv := server.New(opts...)
	defer srv.Stop()

	errs := make(chan error, 2)
	if *grpcAddr != "" {
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			fmt.Fprintf(e.stderr, "Error: %v\n", err)
			return 1
		}
		go func() { errs <- srv.ServeGRPC(lis) }()
	}
	go func() { errs <- srv.ListenAndServe(*addr) }()

	if err := <-errs; err != nil {
		fmt.Fprintf(e.stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}
