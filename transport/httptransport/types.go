package httptransport

import (
	"fmt"
	"time"

	"github.com/c0deZ3R0/listsync/remote"
)

// Error codes carried in errorResponse.Code. The client maps them onto the
// remote failure taxonomy.
const (
	codeBadRequest    = "bad_request"
	codeInvalid       = "invalid_snapshot"
	codeRateLimited   = "rate_limited"
	codeQuotaExceeded = "quota_exceeded"
	codeUnavailable   = "unavailable"
	codeInternal      = "internal"
)

// ServerOptions configures the dev remote server.
type ServerOptions struct {
	// MaxRequestSize is the maximum size of a request body in bytes (compressed).
	// Default: 10MB
	MaxRequestSize int64

	// MaxDecompressedSize is the maximum size of a decompressed request body.
	// Default: 20MB
	MaxDecompressedSize int64

	// CompressionEnabled enables gzip responses above CompressionThreshold.
	CompressionEnabled bool

	// CompressionThreshold is the minimum response size for compression.
	// Default: 1KB
	CompressionThreshold int64

	// RequestTimeout bounds the processing of a single request.
	// Default: 30s
	RequestTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	// Default: 10s
	ShutdownTimeout time.Duration

	// RateLimit is the sustained number of requests per second accepted per
	// device. Zero disables server-side limiting.
	RateLimit float64
	RateBurst int

	// QuotaBytes caps the total image payload of the replica. Zero means
	// unlimited.
	QuotaBytes int64
}

// DefaultServerOptions returns the default server options
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       10 * 1024 * 1024, // 10MB
		MaxDecompressedSize:  20 * 1024 * 1024, // 20MB
		CompressionEnabled:   true,
		CompressionThreshold: 1024,             // 1KB
		RequestTimeout:       30 * time.Second, // 30s
		ShutdownTimeout:      10 * time.Second, // 10s
	}
}

// ClientOptions configures the HTTP remote client.
type ClientOptions struct {
	// CompressionEnabled gzips request bodies above GzipMinBytes and asks for
	// gzip responses.
	CompressionEnabled bool

	// GzipMinBytes is the minimum request size for compression.
	// Default: 1KB
	GzipMinBytes int

	// MaxResponseSize is the maximum size of a response body (compressed).
	// Default: 10MB
	MaxResponseSize int64

	// MaxDecompressedResponseSize is the maximum size of a decompressed response.
	// Default: 64MB
	MaxDecompressedResponseSize int64

	// RequestTimeout bounds a single request.
	// Default: 30s
	RequestTimeout time.Duration

	// RateLimit is the client-side request budget per second. Zero disables
	// limiting. RateBurst defaults to 1.
	RateLimit float64
	RateBurst int
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,
		MaxResponseSize:             10 * 1024 * 1024, // 10MB
		MaxDecompressedResponseSize: 64 * 1024 * 1024, // 64MB
		RequestTimeout:              30 * time.Second,
		RateLimit:                   5,
		RateBurst:                   5,
	}
}

// ValidateClientOptions reports options that cannot work.
func ValidateClientOptions(o *ClientOptions) error {
	switch {
	case o.MaxResponseSize <= 0:
		return fmt.Errorf("MaxResponseSize must be positive")
	case o.MaxDecompressedResponseSize < o.MaxResponseSize:
		return fmt.Errorf("MaxDecompressedResponseSize must be at least MaxResponseSize")
	case o.GzipMinBytes < 0:
		return fmt.Errorf("GzipMinBytes cannot be negative")
	case o.RateLimit < 0:
		return fmt.Errorf("RateLimit cannot be negative")
	}
	return nil
}

// accountResponse is the body of GET /v1/account.
type accountResponse struct {
	Status remote.AccountStatus `json:"status"`
}

// wakeResponse is the body of POST /v1/wake.
type wakeResponse struct {
	Revision string `json:"revision"`
	Applied  int    `json:"applied"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
