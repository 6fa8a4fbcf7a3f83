package httpdto

// Response is the envelope of every JSON answer except the send endpoint's.
// UserIDs is only set on VERIFICATION_REQUIRED errors.
type Response[T any] struct {
	Success bool     `json:"success"`
	Data    T        `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
	UserIDs []string `json:"userIds,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(err, code string) Response[any] {
	return Response[any]{Error: err, Code: code}
}

// NewVerificationRequired names the parties still missing identity
// verification.
func NewVerificationRequired(err string, userIDs []string) Response[any] {
	return Response[any]{Error: err, Code: "VERIFICATION_REQUIRED", UserIDs: userIDs}
}
