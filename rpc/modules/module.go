package modules

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
)

// ModuleError carries a JSON-RPC error together with the HTTP status the
// transport should serve it with.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
