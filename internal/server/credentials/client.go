// Package credentials is the gRPC client of the external credential
// authority. The authority owns password verifiers keyed by lookup hash and
// issues RS256 tokens; this package turns its loosely typed responses into
// Result values and verifies tokens locally with the cached public key.
package credentials

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service of the authority.
const ServiceName = "auth.AuthService"

// RPC method names.
const (
	MethodCreateAuth        = "createAuth"
	MethodUpdateAuth        = "updateAuth"
	MethodGrantAuth         = "grantAuth"
	MethodVerifyCredentials = "verifyCredentials"
	MethodVerifyToken       = "verifyToken"
	MethodRefreshToken      = "refreshToken"
	MethodGetPublicKey      = "getPublicKey"
	MethodDeleteAuth        = "deleteAuth"
	MethodFlushDB           = "FlushDB"
)

const envProd = "prod"

type Client struct {
	addr     string
	dialOpts []grpc.DialOption
	issuer   string
	env      string
	log      logging.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn

	keyMu  sync.RWMutex
	key    *rsa.PublicKey
	keyPEM string
}

type Option func(*Client)

// WithDialOptions replaces the default insecure transport options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = opts }
}

func WithIssuer(issuer string) Option {
	return func(c *Client) { c.issuer = issuer }
}

func WithEnv(env string) Option {
	return func(c *Client) { c.env = env }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l.With("module", "credentials") }
}

// NewClient creates a client for the authority at addr. No connection is
// made until Connect or the first call.
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{
		addr:     addr,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		issuer:   "simple-micro-auth",
		log:      logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	_, err := c.ensureConnected(ctx)
	return err
}

func (c *Client) ensureConnected(_ context.Context) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := grpc.NewClient(c.addr, c.dialOpts...)
	if err != nil {
		return nil, common.NewRemoteServiceError("", err)
	}
	c.conn = conn
	return conn, nil
}

// Ping asks the authority's health service whether it is serving.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return transportError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return common.NewRemoteServiceError(fmt.Sprintf("auth service status %s", resp.GetStatus()), nil)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func transportError(err error) error {
	if st, ok := status.FromError(err); ok {
		return common.NewRemoteServiceError(st.Message(), err)
	}
	return common.NewRemoteServiceError("", err)
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, common.NewApplicationError(fmt.Sprintf("encode %s request: %v", method, err))
	}

	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		c.log.Debug(ctx, "credential call failed", "method", method, "error", err)
		return nil, transportError(err)
	}
	return out, nil
}

// CreateCredential stores a new verifier under lookupHash. A taken hash is
// reported as FailureLookupHashTaken.
func (c *Client) CreateCredential(ctx context.Context, id int64, lookupHash, password string, ttl time.Duration) (Result, error) {
	out, err := c.invoke(ctx, MethodCreateAuth, map[string]any{
		"id":         id,
		"lookupHash": lookupHash,
		"password":   password,
		"ttl":        ttl.String(),
	})
	if err != nil {
		return Result{}, err
	}
	return decodeAuth(out)
}

// UpdateCredential replaces the verifier after checking oldPassword.
func (c *Client) UpdateCredential(ctx context.Context, id int64, lookupHash, oldPassword, newPassword string, ttl time.Duration) (Result, error) {
	out, err := c.invoke(ctx, MethodUpdateAuth, map[string]any{
		"id":          id,
		"lookupHash":  lookupHash,
		"oldPassword": oldPassword,
		"newPassword": newPassword,
		"ttl":         ttl.String(),
	})
	if err != nil {
		return Result{}, err
	}
	return decodeAuth(out)
}

// GrantCredential checks password and issues a token.
func (c *Client) GrantCredential(ctx context.Context, id int64, lookupHash, password string, ttl time.Duration) (Result, error) {
	out, err := c.invoke(ctx, MethodGrantAuth, map[string]any{
		"id":         id,
		"lookupHash": lookupHash,
		"password":   password,
		"ttl":        ttl.String(),
	})
	if err != nil {
		return Result{}, err
	}
	return decodeAuth(out)
}

// VerifyCredential checks password without issuing a token.
func (c *Client) VerifyCredential(ctx context.Context, lookupHash, password string) (Verification, error) {
	out, err := c.invoke(ctx, MethodVerifyCredentials, map[string]any{
		"lookupHash": lookupHash,
		"password":   password,
	})
	if err != nil {
		return Verification{}, err
	}
	if empty(out) {
		return Verification{}, errNoResponse()
	}

	success, ok := boolField(out, "success")
	if !ok {
		return Verification{}, errInvalidResponse()
	}
	msg, ok := stringField(out, "error")
	if !ok {
		return Verification{}, errInvalidResponse()
	}
	return Verification{Success: success, Failure: Classify(msg), Message: msg}, nil
}

// VerifyToken asks the authority to validate token.
func (c *Client) VerifyToken(ctx context.Context, token string) (Result, error) {
	out, err := c.invoke(ctx, MethodVerifyToken, map[string]any{"token": token})
	if err != nil {
		return Result{}, err
	}
	return decodeAuth(out)
}

// RefreshCredential exchanges a valid token for a new one living ttl.
func (c *Client) RefreshCredential(ctx context.Context, token string, ttl time.Duration) (Result, error) {
	out, err := c.invoke(ctx, MethodRefreshToken, map[string]any{
		"token": token,
		"ttl":   ttl.String(),
	})
	if err != nil {
		return Result{}, err
	}
	return decodeAuth(out)
}

// RemoveCredential erases the verifier stored under lookupHash. Only
// Failure and Message of the result are set.
func (c *Client) RemoveCredential(ctx context.Context, lookupHash string) (Result, error) {
	out, err := c.invoke(ctx, MethodDeleteAuth, map[string]any{"lookupHash": lookupHash})
	if err != nil {
		return Result{}, err
	}
	return decodeError(out)
}

// FlushDB wipes the authority. It is refused in production.
func (c *Client) FlushDB(ctx context.Context) error {
	if c.env == envProd {
		return common.NewProhibitedError("Attempt to flush DB in prod!")
	}

	out, err := c.invoke(ctx, MethodFlushDB, map[string]any{"reason": "test"})
	if err != nil {
		return err
	}
	res, err := decodeError(out)
	if err != nil {
		return err
	}
	if !res.OK() {
		return common.NewRemoteServiceError(res.Message, nil)
	}
	return nil
}

// FetchPublicKey downloads the token verification key and replaces the
// cached one.
func (c *Client) FetchPublicKey(ctx context.Context) error {
	out, err := c.invoke(ctx, MethodGetPublicKey, map[string]any{"target": "token"})
	if err != nil {
		return err
	}
	if empty(out) {
		return errNoResponse()
	}
	if msg, _ := stringField(out, "error"); msg != "" {
		return common.NewRemoteServiceError(msg, nil)
	}

	b64, ok := stringField(out, "publicKey")
	if !ok || b64 == "" {
		return errInvalidResponse()
	}
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return errInvalidResponse()
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return errInvalidResponse()
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return errInvalidResponse()
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	c.keyMu.Lock()
	c.key = key
	c.keyPEM = string(keyPEM)
	c.keyMu.Unlock()

	c.log.Info(ctx, "token public key fetched")
	return nil
}

// PublicKeyPEM returns the cached key in PEM form, or "" if none was
// fetched yet.
func (c *Client) PublicKeyPEM() string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.keyPEM
}

func (c *Client) publicKey() *rsa.PublicKey {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.key
}
