// Package authstub is an in-memory credential authority speaking the same
// gRPC contract as the production one. It keeps bcrypt verifiers keyed by
// lookup hash and signs RS256 tokens. It backs local development and the
// integration tests of the credential client and the user service.
package authstub

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Options struct {
	Issuer string
	// Key signs tokens; a fresh 2048-bit key is generated when nil.
	Key *rsa.PrivateKey
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
	Logger     logging.Logger
}

type Server struct {
	store    *store
	signer   *signer
	log      logging.Logger
	handlers map[string]handlerFunc
}

func New(opts Options) (*Server, error) {
	if opts.Issuer == "" {
		opts.Issuer = "simple-micro-auth"
	}
	if opts.Key == nil {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		opts.Key = key
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	s := &Server{
		store:  newStore(opts.BcryptCost),
		signer: &signer{key: opts.Key, issuer: opts.Issuer, now: opts.Now},
		log:    opts.Logger.With("module", "authstub"),
	}
	s.handlers = s.routes()
	return s, nil
}

// ForceCollision plants a foreign record under hash so that the next
// create for it fails as taken.
func (s *Server) ForceCollision(hash string) { s.store.plant(hash) }

// Records returns lookup hash to owner id for every stored verifier.
func (s *Server) Records() map[string]int64 { return s.store.snapshot() }

// NewGRPCServer builds a gRPC server with the authority and a health
// service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.UnknownServiceHandler(s.dispatch),
		grpc.ChainStreamInterceptor(s.loggingInterceptor),
	)
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus(credentials.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := s.NewGRPCServer()

	go func() {
		<-ctx.Done()
		s.log.Info(ctx, "Stopping auth stub...")
		srv.GracefulStop()
	}()

	s.log.Info(ctx, "Starting auth stub", "address", addr)

	if err := srv.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// dispatch serves every unary call of ServiceName.
func (s *Server) dispatch(_ any, stream grpc.ServerStream) error {
	full, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}

	method, found := strings.CutPrefix(full, "/"+credentials.ServiceName+"/")
	if !found {
		return status.Errorf(codes.Unimplemented, "unknown service for %s", full)
	}
	h, ok := s.handlers[method]
	if !ok {
		return status.Errorf(codes.Unimplemented, "unknown method %s", full)
	}

	in := &structpb.Struct{}
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	resp, err := h(stream.Context(), newRequest(in))
	if err != nil {
		return err
	}

	out, err := structpb.NewStruct(resp)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(out)
}

func (s *Server) loggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)

	ctx := ss.Context()
	if err != nil {
		s.log.Warn(ctx, "auth call failed", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
		return err
	}
	s.log.Debug(ctx, "auth call", "method", info.FullMethod, "duration", time.Since(start))
	return nil
}
