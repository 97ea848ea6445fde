package response

import (
	"github.com/gin-gonic/gin"

	"medscan/pkg/apicode"
)

const (
	CodeOK                       = apicode.OK
	CodeBadRequest               = apicode.BadRequest
	CodeEmailExists              = apicode.EmailExists
	CodeWeakPassword             = apicode.WeakPassword
	CodeUnauthorized             = apicode.Unauthorized
	CodeInvalidCredentials       = apicode.InvalidCredentials
	CodeInvalidVerificationToken = apicode.InvalidVerificationToken
	CodeNotFound                 = apicode.NotFound
	CodeRateLimited              = apicode.RateLimited
	CodeInternalServer           = apicode.InternalServer
	CodeUpstreamFailure          = apicode.UpstreamFailure
)

type APIResponse = apicode.Envelope[any]

func OK(c *gin.Context, data any) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Abort writes an error and stops the handler chain.
func Abort(c *gin.Context, httpStatus, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort()
}

// PredictError writes the inference API's own error shape, {"error": msg}.
func PredictError(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, gin.H{"error": message})
}
