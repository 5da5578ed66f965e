// Package authstubtest starts an in-memory credential authority over
// bufconn for tests, in the spirit of net/http/httptest.
package authstubtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/authstub"
	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error
)

// Key returns a signing key shared by every test in the binary.
func Key(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() { key, keyErr = rsa.GenerateKey(rand.Reader, 2048) })
	if keyErr != nil {
		t.Fatalf("generate rsa key: %v", keyErr)
	}
	return key
}

type Authority struct {
	Stub   *authstub.Server
	Client *credentials.Client
}

type config struct {
	now        func() time.Time
	clientOpts []credentials.Option
}

type Option func(*config)

// WithNow sets the clock of the authority's token signer.
func WithNow(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func WithClientOptions(opts ...credentials.Option) Option {
	return func(c *config) { c.clientOpts = append(c.clientOpts, opts...) }
}

// Start serves a fresh authority on a bufconn listener and returns a
// connected client whose public key is already fetched. Everything is torn
// down by t.Cleanup.
func Start(t testing.TB, opts ...Option) *Authority {
	t.Helper()

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	stub, err := authstub.New(authstub.Options{
		Key:        Key(t),
		BcryptCost: bcrypt.MinCost,
		Now:        cfg.now,
	})
	if err != nil {
		t.Fatalf("authstub.New: %v", err)
	}

	lis := bufconn.Listen(bufSize)
	srv := stub.NewGRPCServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	clientOpts := append([]credentials.Option{
		credentials.WithDialOptions(
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	}, cfg.clientOpts...)

	client := credentials.NewClient("passthrough:///bufnet", clientOpts...)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.FetchPublicKey(ctx); err != nil {
		t.Fatalf("fetch public key: %v", err)
	}

	return &Authority{Stub: stub, Client: client}
}
