package httptransport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Request body failures and the status each maps to:
//   - invalid gzip → 400 Bad Request
//   - compressed or decompressed limit exceeded → 413 Request Entity Too Large
//   - unsupported media type or encoding → 415 Unsupported Media Type
var (
	errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")
	errBodyTooLarge         = errors.New("request body too large")
	errUnsupportedMedia     = errors.New("unsupported media type")
	errUnsupportedEncoding  = errors.New("unsupported content encoding")
	errInvalidGzip          = errors.New("invalid gzip data")
)

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
	eof      error
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.eof != nil {
		return 0, r.eof
	}
	if r.consumed >= r.limit {
		return 0, errDecompressedTooLarge
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)

	if r.consumed >= r.limit && err == nil {
		// At the limit; one more byte means the payload is too large.
		var probe [1]byte
		m, perr := r.reader.Read(probe[:])
		if m > 0 {
			return n, errDecompressedTooLarge
		}
		r.eof = perr
	}

	return n, err
}

// createSafeRequestReader returns a reader over the request body that
// enforces both the compressed and the decompressed size limits.
func createSafeRequestReader(w http.ResponseWriter, r *http.Request, options *ServerOptions) (io.Reader, func(), error) {
	maxRequestSize := options.MaxRequestSize
	maxDecompressedSize := options.MaxDecompressedSize

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, func() {}, fmt.Errorf("%w: %s", errUnsupportedMedia, contentType)
	}

	if r.ContentLength > maxRequestSize {
		return nil, func() {}, fmt.Errorf("%w: %d bytes (max %d)", errBodyTooLarge, r.ContentLength, maxRequestSize)
	}

	contentEncoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	switch contentEncoding {
	case "":
		limit := min(maxRequestSize, maxDecompressedSize)
		return http.MaxBytesReader(w, r.Body, limit), func() {}, nil
	case "gzip":
	default:
		return nil, func() {}, fmt.Errorf("%w: %s (only gzip is supported)", errUnsupportedEncoding, contentEncoding)
	}

	gzReader, err := gzip.NewReader(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %w", errInvalidGzip, err)
	}

	reader := &maxDecompressedReader{reader: gzReader, limit: maxDecompressedSize}
	return reader, func() { gzReader.Close() }, nil
}

// createSafeResponseReader is the client-side counterpart: it enforces the
// response size limits and decompresses gzip bodies itself, since the
// client's transport has automatic decompression disabled.
func createSafeResponseReader(resp *http.Response, options *ClientOptions) (io.Reader, func(), error) {
	limited := io.LimitReader(resp.Body, options.MaxResponseSize+1)
	counted := &maxDecompressedReader{reader: limited, limit: options.MaxResponseSize}

	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		return counted, func() {}, nil
	}

	gzReader, err := gzip.NewReader(counted)
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %w", errInvalidGzip, err)
	}
	reader := &maxDecompressedReader{reader: gzReader, limit: options.MaxDecompressedResponseSize}
	return reader, func() { gzReader.Close() }, nil
}

// mapErrorToHTTPStatus maps request body errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, errDecompressedTooLarge), errors.Is(err, errBodyTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMedia), errors.Is(err, errUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
