// Package cluster defines the token-service contract for cluster-scoped
// admission: the client-side disposition of token results, the server-side
// per-flow checker, the namespace safety limiter, and the debounced state
// machine. The network transport is supplied by the embedder.
package cluster

import "sync/atomic"

// TokenStatus is the verdict of a token request.
type TokenStatus int32

const (
	// StatusOK admits the request.
	StatusOK TokenStatus = iota
	// StatusBlocked rejects the request.
	StatusBlocked
	// StatusShouldWait admits after sleeping WaitInMs.
	StatusShouldWait
	// StatusNoRuleExists means the server holds no rule for the flow id.
	StatusNoRuleExists
	// StatusTooManyRequests means the namespace safety cap tripped.
	StatusTooManyRequests
	// StatusFail is a transport or server failure.
	StatusFail
	// StatusBadRequest is a malformed request.
	StatusBadRequest
)

func (s TokenStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBlocked:
		return "blocked"
	case StatusShouldWait:
		return "should-wait"
	case StatusNoRuleExists:
		return "no-rule-exists"
	case StatusTooManyRequests:
		return "too-many-requests"
	case StatusFail:
		return "fail"
	case StatusBadRequest:
		return "bad-request"
	default:
		return "unknown"
	}
}

// TokenResult is the response shape of the token service.
type TokenResult struct {
	Status    TokenStatus
	Remaining int64
	WaitInMs  int64
}

// TokenService is the SPI cluster-mode rules acquire tokens through. A local
// in-process implementation backs the embedded server; remote
// implementations wrap the embedder's transport.
type TokenService interface {
	RequestToken(flowID uint64, count uint32, prioritized bool) *TokenResult
	RequestParamToken(flowID uint64, count uint32, params []interface{}) *TokenResult
}

var tokenService atomic.Pointer[tokenServiceBox]

type tokenServiceBox struct{ svc TokenService }

// SetTokenService installs the process-wide token service. Pass nil to
// remove it; rules then evaluate their local path.
func SetTokenService(svc TokenService) {
	if svc == nil {
		tokenService.Store(nil)
		return
	}
	tokenService.Store(&tokenServiceBox{svc: svc})
}

// GetTokenService returns the installed token service, or nil.
func GetTokenService() TokenService {
	box := tokenService.Load()
	if box == nil {
		return nil
	}
	return box.svc
}
