package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xdg/opsgate/internal/command"
)

type method string

const (
	methodGet  method = http.MethodGet
	methodPost method = http.MethodPost
)

// maxResponseBody caps how much of a response body is read into memory.
// Replies are bounded far below this anyway.
const maxResponseBody = 1 << 20

// HTTP issues a single GET or POST request and reports the status and body.
type HTTP struct {
	method  method
	client  *http.Client
	maxBody int64
}

// NewHTTP creates an HTTP backend for the given method.
func NewHTTP(m method) *HTTP {
	return &HTTP{
		method:  m,
		client:  &http.Client{Timeout: HTTPTimeout},
		maxBody: maxResponseBody,
	}
}

// NewHTTPGet creates a backend that issues GET requests.
func NewHTTPGet() *HTTP { return NewHTTP(methodGet) }

// NewHTTPPost creates a backend that issues POST requests with the body
// parameter sent verbatim.
func NewHTTPPost() *HTTP { return NewHTTP(methodPost) }

// Execute sends the request to params["url"]. Any response, including 4xx
// and 5xx, is StatusCompleted with HTTPStatus set; only transport failures
// are errors.
func (b *HTTP) Execute(ctx context.Context, params command.Params, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = HTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if b.method == methodPost {
		body = strings.NewReader(params.Get(command.ParamBody))
	}

	req, err := http.NewRequestWithContext(ctx, string(b.method), params.Get(command.ParamURL), body)
	if err != nil {
		return errorResult(ErrExecution, fmt.Errorf("build request: %w", err))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return timeoutResult("", err)
		}
		return errorResult(ErrConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBody))
	if err != nil {
		if isTimeout(err) {
			return timeoutResult(string(data), err)
		}
		return errorResult(ErrConnection, fmt.Errorf("read body: %w", err))
	}

	return Result{
		Status:     StatusCompleted,
		Output:     string(data),
		HTTPStatus: resp.StatusCode,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
