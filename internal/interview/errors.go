package interview

import "errors"

// Failure kinds surfaced to the UI. Every failure path sets at least one
// observable piece of state; none are fatal to the gateway.
const (
	FailInitialization     = "initialization_failed"
	FailDispatch           = "dispatch_failed"
	FailCaptureUnavailable = "capture_unavailable"
	FailCaptureError       = "capture_error"
	FailSessionLoad        = "session_load_failed"
)

// Banner holds the transient user-visible failure message for the screen.
type Banner struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Banner texts shown to the user, in the deployment language.
var bannerText = map[string]string{
	FailInitialization:     "인터뷰 시작에 실패했습니다.",
	FailDispatch:           "메시지 전송에 실패했습니다.",
	FailCaptureUnavailable: "음성 인식이 지원되지 않는 환경입니다.",
	FailCaptureError:       "음성 인식 중 오류가 발생했습니다.",
	FailSessionLoad:        "세션 정보를 불러오는데 실패했습니다.",
}

var (
	// ErrNotActive rejects operations that require a started interview.
	ErrNotActive = errors.New("interview is not active")
	// ErrDispatchBusy rejects a send while another dispatch is outstanding.
	ErrDispatchBusy = errors.New("a message dispatch is already outstanding")
	// ErrClosed rejects operations after the screen has been torn down.
	ErrClosed = errors.New("interview controller is closed")
)
