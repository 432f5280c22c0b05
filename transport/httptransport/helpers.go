package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// respondWithJSON writes payload as JSON, gzip-compressed when the client
// accepts it and the body is over the threshold.
func respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}, options *ServerOptions) {
	response, err := json.Marshal(payload)
	if err != nil {
		respondWithError(w, r, http.StatusInternalServerError, codeInternal, "failed to marshal response", options)
		return
	}

	useCompression := options != nil && options.CompressionEnabled &&
		int64(len(response)) >= options.CompressionThreshold &&
		strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Add("Vary", "Accept-Encoding")

	if !useCompression {
		w.WriteHeader(code)
		_, _ = w.Write(response)
		return
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(code)
	gz := gzip.NewWriter(w)
	defer gz.Close()
	_, _ = gz.Write(response)
}

// respondWithError writes an errorResponse.
func respondWithError(w http.ResponseWriter, r *http.Request, status int, code, message string, options *ServerOptions) {
	respondWithJSON(w, r, status, errorResponse{Error: message, Code: code}, options)
}

// respondWithMappedError responds with the status mapped from a request body error.
func respondWithMappedError(w http.ResponseWriter, r *http.Request, err error, options *ServerOptions) {
	respondWithError(w, r, mapErrorToHTTPStatus(err), codeBadRequest, err.Error(), options)
}
