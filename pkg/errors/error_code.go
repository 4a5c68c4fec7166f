package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation/configuration errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidCandidate     ErrorCode = 103
	ErrCodeInvalidTimeWindow    ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105

	// Store errors (200-299)
	ErrCodeStoreInitFailed   ErrorCode = 200
	ErrCodeStoreQueryFailed  ErrorCode = 201
	ErrCodeStoreWriteFailed  ErrorCode = 202
	ErrCodeStoreUnavailable  ErrorCode = 203
	ErrCodeTradeNotFound     ErrorCode = 204
	ErrCodeSessionNotFound   ErrorCode = 205
	ErrCodeInvalidTransition ErrorCode = 206

	// Market data errors (300-399)
	ErrCodeNoMarketData      ErrorCode = 300
	ErrCodeUnknownSymbol     ErrorCode = 301
	ErrCodeNoOptionChain     ErrorCode = 302
	ErrCodeGreeksUnavailable ErrorCode = 303
	ErrCodeMarketUnavailable ErrorCode = 304

	// Broker/order errors (400-499)
	ErrCodeOrderSubmitFailed ErrorCode = 400
	ErrCodeOrderNotFound     ErrorCode = 401
	ErrCodeOrderRejected     ErrorCode = 402
	ErrCodeCancelFailed      ErrorCode = 403
	ErrCodeBrokerUnavailable ErrorCode = 404

	// Trade lifecycle errors (500-599)
	ErrCodeEntryAbandoned    ErrorCode = 500
	ErrCodeExitNotFilled     ErrorCode = 501
	ErrCodeReconcileMismatch ErrorCode = 502

	// Session/engine errors (600-699)
	ErrCodeSessionInitFailed ErrorCode = 600
	ErrCodeSessionAborted    ErrorCode = 601

	// Invariant violations (700-799) - always fatal for the session
	ErrCodeDuplicateOpenTrade    ErrorCode = 700
	ErrCodeTradingDisabledOrder  ErrorCode = 701
	ErrCodeTerminalStateMutation ErrorCode = 702
)

// IsInvariantViolation reports whether code identifies a safety-contract
// failure that must abort the session rather than be retried.
func IsInvariantViolation(code ErrorCode) bool {
	return code >= 700 && code < 800
}

// IsConnectivity reports whether code identifies an unreachable external
// collaborator. Connectivity failures abort the current tick and back off;
// they never terminate the session loop.
func IsConnectivity(code ErrorCode) bool {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeMarketUnavailable, ErrCodeBrokerUnavailable:
		return true
	default:
		return false
	}
}
