package httperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
	KindStateConflict Kind = "state_conflict"
	KindExternal      Kind = "external_service_error"
	KindRender        Kind = "render_failure"
)

// E is the error shape every service operation returns for caller-visible
// failures. Details carries structured context the caller can act on, e.g.
// the list of unsigned required field ids.
type E struct {
	Kind    Kind
	Message string
	Details any
}

func (e *E) Error() string { return string(e.Kind) + ": " + e.Message }

func Validation(msg string, details any) *E {
	return &E{Kind: KindValidation, Message: msg, Details: details}
}

func NotFound(msg string) *E {
	return &E{Kind: KindNotFound, Message: msg}
}

func Forbidden(msg string) *E {
	return &E{Kind: KindForbidden, Message: msg}
}

func StateConflict(msg string) *E {
	return &E{Kind: KindStateConflict, Message: msg}
}

func External(msg string) *E {
	return &E{Kind: KindExternal, Message: msg}
}

func Render(msg string) *E {
	return &E{Kind: KindRender, Message: msg}
}

// IsKind reports whether err is an *E of the given kind.
func IsKind(err error, k Kind) bool {
	var e *E
	return errors.As(err, &e) && e.Kind == k
}

// AsE returns err as an *E when possible.
func AsE(err error) (*E, bool) {
	var e *E
	ok := errors.As(err, &e)
	return e, ok
}

func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindStateConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as a JSON error response. Unknown errors become an
// opaque 500 so internals never leak to callers.
func Respond(c *gin.Context, err error) {
	var e *E
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	body := gin.H{"error": e.Message, "code": string(e.Kind)}
	if e.Details != nil {
		body["details"] = e.Details
	}
	c.JSON(statusFor(e.Kind), body)
}
