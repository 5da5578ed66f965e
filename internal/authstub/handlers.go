package authstub

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type handlerFunc func(ctx context.Context, req *request) (map[string]any, error)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		credentials.MethodCreateAuth:        s.createAuth,
		credentials.MethodUpdateAuth:        s.updateAuth,
		credentials.MethodGrantAuth:         s.grantAuth,
		credentials.MethodVerifyCredentials: s.verifyCredentials,
		credentials.MethodVerifyToken:       s.verifyToken,
		credentials.MethodRefreshToken:      s.refreshToken,
		credentials.MethodGetPublicKey:      s.getPublicKey,
		credentials.MethodDeleteAuth:        s.deleteAuth,
		credentials.MethodFlushDB:           s.flushDB,
	}
}

// request reads typed fields from a Struct, remembering the first missing
// or mistyped one.
type request struct {
	fields map[string]*structpb.Value
	err    error
}

func newRequest(s *structpb.Struct) *request {
	return &request{fields: s.GetFields()}
}

func (r *request) fail(name string) {
	if r.err == nil {
		r.err = status.Errorf(codes.InvalidArgument, "field %q is missing or has a wrong type", name)
	}
}

func (r *request) str(name string) string {
	v, ok := r.fields[name].GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.fail(name)
		return ""
	}
	return v.StringValue
}

func (r *request) id(name string) int64 {
	v, ok := r.fields[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		r.fail(name)
		return 0
	}
	return int64(v.NumberValue)
}

func (r *request) ttl(name string) time.Duration {
	raw := r.str(name)
	if r.err != nil {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.fail(name)
		return 0
	}
	return d
}

func authResponse(id int64, token, msg string) map[string]any {
	return map[string]any{"id": id, "token": token, "error": msg}
}

// failure turns store sentinels into a response and anything else into an
// internal gRPC error.
func failure(err error) (map[string]any, error) {
	var se stubError
	if errors.As(err, &se) {
		return authResponse(0, "", se.Error()), nil
	}
	return nil, status.Error(codes.Internal, err.Error())
}

func (s *Server) issue(id int64, ttl time.Duration) (map[string]any, error) {
	token, err := s.signer.sign(id, ttl)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return authResponse(id, token, ""), nil
}

func (s *Server) createAuth(_ context.Context, req *request) (map[string]any, error) {
	id, hash, password, ttl := req.id("id"), req.str("lookupHash"), req.str("password"), req.ttl("ttl")
	if req.err != nil {
		return nil, req.err
	}
	if err := s.store.create(id, hash, password); err != nil {
		return failure(err)
	}
	return s.issue(id, ttl)
}

func (s *Server) updateAuth(_ context.Context, req *request) (map[string]any, error) {
	hash, oldPassword, newPassword, ttl := req.str("lookupHash"), req.str("oldPassword"), req.str("newPassword"), req.ttl("ttl")
	if req.err != nil {
		return nil, req.err
	}
	id, err := s.store.replace(hash, oldPassword, newPassword)
	if err != nil {
		return failure(err)
	}
	return s.issue(id, ttl)
}

func (s *Server) grantAuth(_ context.Context, req *request) (map[string]any, error) {
	hash, password, ttl := req.str("lookupHash"), req.str("password"), req.ttl("ttl")
	if req.err != nil {
		return nil, req.err
	}
	id, err := s.store.check(hash, password)
	if err != nil {
		return failure(err)
	}
	return s.issue(id, ttl)
}

func (s *Server) verifyCredentials(_ context.Context, req *request) (map[string]any, error) {
	hash, password := req.str("lookupHash"), req.str("password")
	if req.err != nil {
		return nil, req.err
	}
	if _, err := s.store.check(hash, password); err != nil {
		var se stubError
		if !errors.As(err, &se) {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return map[string]any{"success": false, "error": se.Error()}, nil
	}
	return map[string]any{"success": true, "error": ""}, nil
}

func (s *Server) verifyToken(_ context.Context, req *request) (map[string]any, error) {
	token := req.str("token")
	if req.err != nil {
		return nil, req.err
	}
	id, msg := s.signer.parse(token)
	if msg != "" {
		return authResponse(0, "", msg), nil
	}
	return authResponse(id, token, ""), nil
}

func (s *Server) refreshToken(_ context.Context, req *request) (map[string]any, error) {
	token, ttl := req.str("token"), req.ttl("ttl")
	if req.err != nil {
		return nil, req.err
	}
	id, msg := s.signer.parse(token)
	if msg != "" {
		return authResponse(0, "", msg), nil
	}
	return s.issue(id, ttl)
}

func (s *Server) getPublicKey(_ context.Context, req *request) (map[string]any, error) {
	target := req.str("target")
	if req.err != nil {
		return nil, req.err
	}
	if target != "token" {
		return map[string]any{"publicKey": "", "error": "unknown key target"}, nil
	}
	der, err := s.signer.publicKeyDER()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return map[string]any{"publicKey": base64.StdEncoding.EncodeToString(der), "error": ""}, nil
}

func (s *Server) deleteAuth(_ context.Context, req *request) (map[string]any, error) {
	hash := req.str("lookupHash")
	if req.err != nil {
		return nil, req.err
	}
	if err := s.store.remove(hash); err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	return map[string]any{"error": ""}, nil
}

func (s *Server) flushDB(ctx context.Context, _ *request) (map[string]any, error) {
	s.store.flush()
	s.log.Warn(ctx, "credential store flushed")
	return map[string]any{"error": ""}, nil
}
