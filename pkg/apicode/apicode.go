// Package apicode holds the response envelope and business codes shared by
// the backend and its Go client.
package apicode

const (
	OK                       = 0
	BadRequest               = 40000
	EmailExists              = 40001
	WeakPassword             = 40003
	Unauthorized             = 40100
	InvalidCredentials       = 40101
	InvalidVerificationToken = 40102
	NotFound                 = 40400
	RateLimited              = 42900
	InternalServer           = 50000
	UpstreamFailure          = 50200
)

// Envelope wraps every /api/v1 response.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}
