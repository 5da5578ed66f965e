package credentials

import (
	"github.com/dmitrijs2005/mmarket/internal/common"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	msgInvalidResponse = "invalid response from external service"
	msgNoResponse      = "no response from external service"
)

func errInvalidResponse() error { return common.NewRemoteServiceError(msgInvalidResponse, nil) }
func errNoResponse() error      { return common.NewRemoteServiceError(msgNoResponse, nil) }

func numberField(s *structpb.Struct, name string) (float64, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

func stringField(s *structpb.Struct, name string) (string, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return "", false
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return str.StringValue, true
}

func boolField(s *structpb.Struct, name string) (bool, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}

func empty(s *structpb.Struct) bool {
	return s == nil || len(s.GetFields()) == 0
}

// decodeAuth checks the {id, token, error} response shape.
func decodeAuth(s *structpb.Struct) (Result, error) {
	if empty(s) {
		return Result{}, errNoResponse()
	}
	id, ok := numberField(s, "id")
	if !ok {
		return Result{}, errInvalidResponse()
	}
	token, ok := stringField(s, "token")
	if !ok {
		return Result{}, errInvalidResponse()
	}
	msg, ok := stringField(s, "error")
	if !ok {
		return Result{}, errInvalidResponse()
	}

	return Result{
		ID:      int64(id),
		Token:   token,
		Failure: Classify(msg),
		Message: msg,
	}, nil
}

// decodeError checks the {error} response shape.
func decodeError(s *structpb.Struct) (Result, error) {
	if empty(s) {
		return Result{}, errNoResponse()
	}
	msg, ok := stringField(s, "error")
	if !ok {
		return Result{}, errInvalidResponse()
	}
	return Result{Failure: Classify(msg), Message: msg}, nil
}
