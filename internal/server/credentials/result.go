package credentials

import "strings"

// Sentinel messages of the credential authority. They are the whole
// vocabulary the backend matches on.
const (
	MsgInvalidPassword    = "invalid password"
	MsgLookupHashNotFound = "lookupHash not found"
	MsgLookupHashTaken    = "error creating credentials in db"

	// Prefixes the authority uses for token failures.
	PrefixTokenExpired = "TokenExpiredError"
	PrefixTokenInvalid = "AuthorizationError"
)

// Failure classifies the error string of an authority response.
type Failure int

const (
	FailureNone Failure = iota
	FailureInvalidPassword
	FailureLookupHashNotFound
	FailureLookupHashTaken
	FailureTokenExpired
	FailureTokenInvalid
	FailureOther
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureInvalidPassword:
		return "invalid_password"
	case FailureLookupHashNotFound:
		return "lookup_hash_not_found"
	case FailureLookupHashTaken:
		return "lookup_hash_taken"
	case FailureTokenExpired:
		return "token_expired"
	case FailureTokenInvalid:
		return "token_invalid"
	default:
		return "other"
	}
}

// Classify maps an authority error string to a Failure. An empty string is
// FailureNone.
func Classify(msg string) Failure {
	switch {
	case msg == "":
		return FailureNone
	case msg == MsgInvalidPassword:
		return FailureInvalidPassword
	case msg == MsgLookupHashNotFound:
		return FailureLookupHashNotFound
	case msg == MsgLookupHashTaken:
		return FailureLookupHashTaken
	case strings.HasPrefix(msg, PrefixTokenExpired):
		return FailureTokenExpired
	case strings.HasPrefix(msg, PrefixTokenInvalid):
		return FailureTokenInvalid
	default:
		return FailureOther
	}
}

// Result is the outcome of a credential operation that may issue a token.
// Failure is FailureNone exactly when the authority reported no error; the
// raw error text is kept in Message.
type Result struct {
	ID      int64
	Token   string
	Failure Failure
	Message string
}

func (r Result) OK() bool { return r.Failure == FailureNone }

// Verification is the outcome of a password check that issues nothing.
type Verification struct {
	Success bool
	Failure Failure
	Message string
}
