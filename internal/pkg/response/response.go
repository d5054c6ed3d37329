// internal/pkg/response/response.go
package response

import (
	"net/http"

	xerrors "tariff-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends a standardized error response.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	// Abort before writing so later handlers in the chain do not run.
	c.Abort()

	response := Response{
		Success: false,
		Message: message,
	}

	if err != nil {
		response.Error = err.Error()
		response.Code = xerrors.Code(err)
	}

	if len(data) > 0 {
		response.Data = data[0]
	}

	c.JSON(code, response)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.ErrValidation, xerrors.ErrMultiCategoryDemo:
		return http.StatusBadRequest
	case xerrors.ErrNotFound:
		return http.StatusNotFound
	case xerrors.ErrConflict, xerrors.ErrTrialAlreadyUsed:
		return http.StatusConflict
	case xerrors.ErrInvalidState:
		return http.StatusUnprocessableEntity
	case xerrors.ErrUnauthorized:
		return http.StatusUnauthorized
	case xerrors.ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes err with the status of its kind. Storage failures are not echoed to
// the client.
func FromError(c *gin.Context, message string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		c.Abort()
		c.JSON(status, Response{
			Success: false,
			Message: message,
			Code:    xerrors.Code(xerrors.ErrOperationFailed),
			Error:   xerrors.ErrOperationFailed.Error(),
		})
		return
	}
	Error(c, status, message, err)
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, message, withKind(err, xerrors.ErrValidation))
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message, xerrors.ErrUnauthorized)
}

// Forbidden sends a 403 Forbidden response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message, xerrors.ErrForbidden)
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message, xerrors.ErrNotFound)
}

func withKind(err, kind error) error {
	if err == nil {
		return kind
	}
	if xerrors.Is(err, kind) {
		return err
	}
	return xerrors.Wrap(kind, err.Error())
}
