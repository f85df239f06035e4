package httpserver

const (
	ErrInvalidJSON   = "invalid json"
	ErrMissingID     = "missing id"
	ErrDependency    = "dependency error"
	ErrNotFound      = "not found"
	ErrInvalidStatus = "invalid status"
	ErrTokenMissing  = "token missing"
	ErrUnavailable   = "push transport unavailable"
)
