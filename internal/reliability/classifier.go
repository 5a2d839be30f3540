package reliability

// IsRetryableHTTPStatus classifies backend transport failures the interview
// UI may invite the user to retry.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeCode classifies retryable realtime speech-channel errors.
func IsRetryableRealtimeCode(code string) bool {
	switch code {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}
