package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is a fully-built upstream call. Query parameters are kept apart
// from URL so secrets passed in the query string never show up in errors or logs.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Query  map[string]string
	Body   interface{}
}

// Client sends upstream requests. Unary calls are bounded by the configured
// timeout; streaming calls only bound the wait for response headers, since
// a healthy stream can outlive any fixed deadline.
type Client struct {
	unary  *resty.Client
	stream *resty.Client
}

func New(timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		unary:  resty.New().SetTimeout(timeout),
		stream: resty.New().SetTransport(transport),
	}
}

// NewWithHTTPClient wraps an existing http.Client for both call styles.
func NewWithHTTPClient(hc *http.Client) *Client {
	return &Client{
		unary:  resty.NewWithClient(hc),
		stream: resty.NewWithClient(hc),
	}
}

func (c *Client) request(ctx context.Context, rc *resty.Client, req *Request) *resty.Request {
	r := rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(req.Header).
		SetQueryParams(req.Query)
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	return r
}

// Send performs a unary call and returns the raw response body.
// Non-2xx responses come back as *UpstreamError.
func (c *Client) Send(ctx context.Context, req *Request) ([]byte, error) {
	resp, err := c.request(ctx, c.unary, req).
		SetHeader("Accept", "application/json").
		Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, stripURL(err))
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
			URL:        req.URL,
		}
	}

	return resp.Body(), nil
}

// Stream performs a streaming call and hands back the open body. The caller
// must close it.
func (c *Client) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	resp, err := c.request(ctx, c.stream, req).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("stream request to %s failed: %w", req.URL, stripURL(err))
	}

	body := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		defer func() {
			_ = body.Close()
		}()
		respBody, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode(),
			Body:       respBody,
			URL:        req.URL,
		}
	}

	return body, nil
}

// stripURL drops the *url.Error wrapper, whose message repeats the full URL
// including the query string.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
