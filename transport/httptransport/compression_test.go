package httptransport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"nil error returns 200", nil, http.StatusOK},
		{"decompressed limit returns 413", errDecompressedTooLarge, http.StatusRequestEntityTooLarge},
		{"MaxBytesError returns 413", &http.MaxBytesError{Limit: 1000}, http.StatusRequestEntityTooLarge},
		{"body too large returns 413", fmt.Errorf("%w: 5000 bytes", errBodyTooLarge), http.StatusRequestEntityTooLarge},
		{"media type returns 415", fmt.Errorf("%w: text/plain", errUnsupportedMedia), http.StatusUnsupportedMediaType},
		{"encoding returns 415", fmt.Errorf("%w: br", errUnsupportedEncoding), http.StatusUnsupportedMediaType},
		{"invalid gzip returns 400", fmt.Errorf("%w: unexpected EOF", errInvalidGzip), http.StatusBadRequest},
		{"generic error returns 400", fmt.Errorf("something went wrong"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, mapErrorToHTTPStatus(tt.err))
		})
	}
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestCreateSafeRequestReader(t *testing.T) {
	opts := &ServerOptions{MaxRequestSize: 1024, MaxDecompressedSize: 2048}

	t.Run("plain body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
		r.Header.Set("Content-Type", "application/json")
		reader, cleanup, err := createSafeRequestReader(httptest.NewRecorder(), r, opts)
		require.NoError(t, err)
		defer cleanup()
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("gzip body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(gzipBytes(t, []byte(`{"a":1}`))))
		r.Header.Set("Content-Encoding", "gzip")
		reader, cleanup, err := createSafeRequestReader(httptest.NewRecorder(), r, opts)
		require.NoError(t, err)
		defer cleanup()
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("gzip bomb", func(t *testing.T) {
		bomb := gzipBytes(t, bytes.Repeat([]byte("a"), 64*1024))
		require.Less(t, len(bomb), 1024)
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(bomb))
		r.Header.Set("Content-Encoding", "gzip")
		reader, cleanup, err := createSafeRequestReader(httptest.NewRecorder(), r, opts)
		require.NoError(t, err)
		defer cleanup()
		_, err = io.ReadAll(reader)
		assert.ErrorIs(t, err, errDecompressedTooLarge)
	})

	t.Run("invalid gzip", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
		r.Header.Set("Content-Encoding", "gzip")
		_, _, err := createSafeRequestReader(httptest.NewRecorder(), r, opts)
		assert.ErrorIs(t, err, errInvalidGzip)
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
		r.Header.Set("Content-Encoding", "br")
		_, _, err := createSafeRequestReader(httptest.NewRecorder(), r, opts)
		assert.ErrorIs(t, err, errUnsupportedEncoding)
	})

	t.Run("declared length too large", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, 4096)))
		_, _, err := createSafeRequestReader(httptest.NewRecorder(), r, opts)
		assert.ErrorIs(t, err, errBodyTooLarge)
	})
}

func TestMaxDecompressedReader_ExactLimit(t *testing.T) {
	r := &maxDecompressedReader{reader: strings.NewReader("abcd"), limit: 4}
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(got))
}
