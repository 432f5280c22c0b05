// Package httptransport implements remote.Service over HTTP and provides a
// development remote server that keeps a replica in any store.Store.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	syncErrors "github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
	"github.com/c0deZ3R0/listsync/model"
	"github.com/c0deZ3R0/listsync/remote"
)

const clientComponent = "transport/http"

// Client implements remote.Service against a listsync server.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
	options  *ClientOptions
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ remote.Service = (*Client)(nil)

// newHTTPClient creates an http.Client with automatic decompression
// disabled, so the response size limits apply to both encodings.
func newHTTPClient(opts *ClientOptions) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	return &http.Client{Transport: tr, Timeout: opts.RequestTimeout}
}

// NewClient creates a Client for the server at baseURL acting as deviceID.
func NewClient(baseURL, deviceID string, opts ...ClientOption) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("invalid base URL %q: %w", baseURL, err), "NewClient", clientComponent, syncErrors.KindInvalid)
	}
	if deviceID == "" {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("device id is required"), "NewClient", clientComponent, syncErrors.KindInvalid)
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		options:  DefaultClientOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := ValidateClientOptions(c.options); err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, "NewClient", clientComponent, syncErrors.KindInvalid)
	}
	if c.http == nil {
		c.http = newHTTPClient(c.options)
	}
	if c.options.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.options.RateLimit), max(c.options.RateBurst, 1))
	}
	c.logger = logging.OrDefault(c.logger, clientComponent)
	return c, nil
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// AccountStatus implements remote.Service.
func (c *Client) AccountStatus(ctx context.Context) (remote.AccountStatus, error) {
	var out accountResponse
	if err := c.do(ctx, syncErrors.OpAccount, http.MethodGet, "/v1/account", nil, &out); err != nil {
		return remote.AccountCouldNotDetermine, err
	}
	return out.Status, nil
}

// FetchSnapshot implements remote.Service.
func (c *Client) FetchSnapshot(ctx context.Context) (*remote.Replica, error) {
	var out remote.Replica
	if err := c.do(ctx, syncErrors.OpFetch, http.MethodGet, "/v1/snapshot", nil, &out); err != nil {
		return nil, err
	}
	if out.Snapshot == nil {
		out.Snapshot = &model.Snapshot{}
	}
	c.logger.DebugContext(ctx, "Fetched remote snapshot",
		slog.String("revision", out.Revision),
		slog.Int("lists", len(out.Snapshot.Lists)),
		slog.Int("items", len(out.Snapshot.Items)),
		slog.Bool("has_baseline", out.Baseline != nil),
	)
	return &out, nil
}

// Wake implements remote.Service by pushing local for the server to merge.
func (c *Client) Wake(ctx context.Context, local *model.Snapshot) error {
	var out wakeResponse
	if err := c.do(ctx, syncErrors.OpWake, http.MethodPost, "/v1/wake", local, &out); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "Pushed local snapshot",
		slog.String("revision", out.Revision),
		slog.Int("operations", out.Applied),
	)
	return nil
}

// do performs one request. Failures are returned as SyncErrors classified
// by the remote failure taxonomy.
func (c *Client) do(ctx context.Context, op syncErrors.Operation, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return syncErrors.NewCancelled(op, ctx.Err())
			}
			return syncErrors.Classify(op, fmt.Errorf("%w: %w", syncErrors.ErrRateLimited, err))
		}
	}

	endpoint := c.baseURL + path + "?device=" + url.QueryEscape(c.deviceID)
	req, err := c.newRequest(ctx, method, endpoint, in)
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, string(op), clientComponent, syncErrors.KindInvalid)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return syncErrors.NewCancelled(op, ctx.Err())
		}
		c.logger.WarnContext(ctx, "Request failed",
			slog.String("method", method),
			slog.String("url", endpoint),
			slog.Any("error", err))
		return syncErrors.Classify(op, fmt.Errorf("%w: %w", syncErrors.ErrNetworkUnavailable, err))
	}
	defer resp.Body.Close()

	reader, cleanup, err := createSafeResponseReader(resp, c.options)
	if err != nil {
		return syncErrors.Classify(op, fmt.Errorf("%w: %w", syncErrors.ErrRemoteUnknown, err))
	}
	defer cleanup()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body errorResponse
		raw, _ := io.ReadAll(io.LimitReader(reader, 64*1024))
		_ = json.Unmarshal(raw, &body)
		if body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		c.logger.DebugContext(ctx, "Request returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("code", body.Code),
			slog.Duration("duration", time.Since(start)))
		return syncErrors.Classify(op, statusError(resp.StatusCode, body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		if ctx.Err() != nil {
			return syncErrors.NewCancelled(op, ctx.Err())
		}
		return syncErrors.Classify(op, fmt.Errorf("%w: decode response: %w", syncErrors.ErrRemoteUnknown, err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, in any) (*http.Request, error) {
	if in == nil {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.acceptGzip(req)
		return req, nil
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body := payload
	compressed := false
	if c.options.CompressionEnabled && len(payload) > c.options.GzipMinBytes {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			return nil, fmt.Errorf("compress request: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("close gzip writer: %w", err)
		}
		body, compressed = buf.Bytes(), true
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	c.acceptGzip(req)
	return req, nil
}

func (c *Client) acceptGzip(req *http.Request) {
	if c.options.CompressionEnabled {
		req.Header.Set("Accept-Encoding", "gzip")
	}
}

// statusError maps an HTTP failure onto the remote failure taxonomy.
func statusError(status int, body errorResponse) error {
	detail := fmt.Errorf("server returned %d: %s", status, body.Error)
	switch {
	case status == http.StatusTooManyRequests || body.Code == codeRateLimited:
		return fmt.Errorf("%w: %w", syncErrors.ErrRateLimited, detail)
	case status == http.StatusInsufficientStorage || status == http.StatusPaymentRequired || body.Code == codeQuotaExceeded:
		return fmt.Errorf("%w: %w", syncErrors.ErrQuotaExceeded, detail)
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout || body.Code == codeUnavailable:
		return fmt.Errorf("%w: %w", syncErrors.ErrNetworkUnavailable, detail)
	default:
		return fmt.Errorf("%w: %w", syncErrors.ErrRemoteUnknown, detail)
	}
}
