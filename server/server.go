package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/enotvtapke/virtual-machines-cub/store"
)

var log = commonlog.GetLogger("lamavm.server")

// Server serves the run service over Connect (HTTP, JSON or binary
// protobuf) and, when registered on a grpc.Server, over gRPC.
type Server struct {
	pool    *WorkerPool
	service *RunService
	mux     *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store      *store.Store
	fixtureDir string
	workers    int
	stepLimit  int
}

// WithStore saves every run report to st.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithFixtureDir sets the directory fixture names are resolved in.
// Without it only inline images can be run.
func WithFixtureDir(dir string) ServerOption {
	return func(c *serverConfig) { c.fixtureDir = dir }
}

// WithWorkers sets the number of runs that may execute at once.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithStepLimit sets the step limit of runs whose request has none.
func WithStepLimit(n int) ServerOption {
	return func(c *serverConfig) { c.stepLimit = n }
}

// New creates a Server.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{workers: 4}
	for _, opt := range opts {
		opt(cfg)
	}

	pool := NewWorkerPool(cfg.workers)
	s := &Server{
		pool:    pool,
		service: NewRunService(pool, cfg.store, cfg.fixtureDir, cfg.stepLimit),
		mux:     http.NewServeMux(),
	}

	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, connectUnary(s.service.Run)))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, connectUnary(s.service.Disassemble)))
	return s
}

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Service returns the run service.
func (s *Server) Service() *RunService { return s.service }

// RegisterGRPC registers the run service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&runServiceDesc, s.service)
}

// ListenAndServe starts the Connect HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("run service listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, RunProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// ServeGRPC serves the run service over gRPC on lis until it fails.
func (s *Server) ServeGRPC(lis net.Listener) error {
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)
	log.Noticef("  gRPC (binary):       grpc://%s", lis.Addr())
	return gs.Serve(lis)
}

// Stop shuts down the worker pool.
func (s *Server) Stop() {
	s.pool.Stop()
}

// ---------------------------------------------------------------------------
// Transport adapters
// ---------------------------------------------------------------------------

type structMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func connectUnary(m structMethod) func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		out, err := m(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(out), nil
	}
}

// grpcError converts a service error to a gRPC status. Connect codes and
// gRPC codes share their numbering.
func grpcError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return status.Error(codes.Code(cerr.Code()), cerr.Message())
	}
	return status.Error(codes.Unknown, err.Error())
}

func grpcUnary(method string, call func(RunServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(RunServiceServer), ctx, req.(*structpb.Struct))
				if err != nil {
					return nil, grpcError(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/%s", RunServiceName, method)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var runServiceDesc = grpc.ServiceDesc{
	ServiceName: RunServiceName,
	HandlerType: (*RunServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcUnary("Run", RunServiceServer.Run),
		grpcUnary("Disassemble", RunServiceServer.Disassemble),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lamavm/v1/run.proto",
}
