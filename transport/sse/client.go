package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
)

type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the change stream of the server at
// baseURL. A nil httpClient uses one without a timeout, since the stream
// stays open.
func NewClient(baseURL, deviceID string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		url:    strings.TrimRight(baseURL, "/") + "/v1/events?device=" + url.QueryEscape(deviceID),
		client: httpClient,
		logger: logging.OrDefault(logger, component),
	}
}

// Subscribe reads the stream until ctx is done, the server closes it or
// handler fails. The first notice only records the starting revision;
// handler sees every later change. Ending through ctx returns nil.
func (c *Client) Subscribe(ctx context.Context, handler func(Notice) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return errors.WrapOpComponent(err, string(errors.OpNotification), component)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.NewNetworkError(errors.OpNotification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("change stream: unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return errors.NewNetworkError(errors.OpNotification, err)
		}
		return errors.WrapOpComponentKind(err, string(errors.OpNotification), component, errors.KindRemote)
	}

	sc := bufio.NewScanner(resp.Body)
	first := true
	var last int64
	for sc.Scan() {
		line := sc.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		var n Notice
		if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &n); err != nil {
			return errors.WrapOpComponentKind(err, string(errors.OpNotification), component, errors.KindRemote)
		}
		if first {
			first, last = false, n.Revision
			continue
		}
		if n.Revision == last {
			continue
		}
		last = n.Revision
		c.logger.Debug("replica changed", slog.Int64("revision", n.Revision))
		if err := handler(n); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return errors.NewNetworkError(errors.OpNotification, err)
	}
	return nil
}
