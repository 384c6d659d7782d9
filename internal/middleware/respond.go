// internal/middleware/respond.go
package middleware

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"todocore/pkg/apierrors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Detail     string                     `json:"detail"`
	StatusCode int                        `json:"status_code"`
	ErrorType  string                     `json:"error_type"`
	Violations []apierrors.FieldViolation `json:"violations,omitempty"`
}

// RenderError writes err as a structured error response and aborts the
// request. Unclassified errors render as opaque 500s so internals never
// reach the client.
func RenderError(c *gin.Context, err error) {
	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierrors.Wrap(apierrors.Internal, "internal server error", err)
	}

	status := apiErr.Kind.HTTPStatus()
	if apiErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(apiErr.RetryAfter.Seconds()+0.5)))
	}
	c.AbortWithStatusJSON(status, ErrorBody{
		Detail:     apiErr.Detail,
		StatusCode: status,
		ErrorType:  apiErr.Kind.String(),
		Violations: apiErr.Violations,
	})
}
