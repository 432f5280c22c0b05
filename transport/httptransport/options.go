package httptransport

import (
	"log/slog"
	"net/http"
	"time"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(s *Server) {
		s.options.MaxRequestSize = size
	}
}

// WithMaxDecompressedSize sets the maximum allowed size of decompressed request bodies
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(s *Server) {
		s.options.MaxDecompressedSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(s *Server) {
		s.options.CompressionEnabled = enabled
	}
}

// WithCompressionThreshold sets the minimum size for response compression
func WithCompressionThreshold(size int64) ServerOption {
	return func(s *Server) {
		s.options.CompressionThreshold = size
	}
}

// WithRequestTimeout sets the maximum duration for request processing
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.options.RequestTimeout = timeout
	}
}

// WithShutdownTimeout sets the maximum duration for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.options.ShutdownTimeout = timeout
	}
}

// WithServerRateLimit limits each device to perSecond requests with burst.
func WithServerRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.options.RateLimit = perSecond
		s.options.RateBurst = burst
	}
}

// WithQuota caps the replica's total image payload in bytes.
func WithQuota(bytes int64) ServerOption {
	return func(s *Server) {
		s.options.QuotaBytes = bytes
	}
}

// WithServerLogger sets the server's logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientCompression enables or disables request/response compression
func WithClientCompression(enabled bool) ClientOption {
	return func(c *Client) {
		c.options.CompressionEnabled = enabled
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies
func WithMaxResponseSize(size int64) ClientOption {
	return func(c *Client) {
		c.options.MaxResponseSize = size
	}
}

// WithClientTimeout sets the timeout for all requests
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.options.RequestTimeout = timeout
	}
}

// WithRateLimit sets the client-side request budget. Zero disables it.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.options.RateLimit = perSecond
		c.options.RateBurst = burst
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}
