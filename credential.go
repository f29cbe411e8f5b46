package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var DefaultTokenPaths = []string{"ephemeral_key_value", "client_secret.value", "value"}

// CredentialSource fetches a short-lived realtime credential from the
// session backend.
type CredentialSource struct {
	logger  shared.LoggerAdapter
	url     string
	paths   []string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewCredentialSource(logger shared.LoggerAdapter, url string, tokenPaths []string, dial func(addr string) (net.Conn, error)) (*CredentialSource, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if url == "" {
		return nil, errors.New("credential url is required")
	}
	if len(tokenPaths) == 0 {
		tokenPaths = DefaultTokenPaths
	}
	client := &fasthttp.Client{Name: "voice-shop/" + shared.Version}
	if dial != nil {
		client.Dial = dial
	}
	return &CredentialSource{
		logger:  logger,
		url:     url,
		paths:   tokenPaths,
		client:  client,
		timeout: 15 * time.Second,
	}, nil
}

// Fetch returns the token found at the first matching path.
func (s *CredentialSource) Fetch(ctx context.Context) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodPost)

	resC := make(chan httpResult, 1)
	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		err := s.client.DoTimeout(req, resp, s.timeout)
		resC <- httpResult{code: resp.StatusCode(), body: string(resp.Body()), err: err}
	}()

	var res httpResult
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetching credential: %w", ctx.Err())
	case res = <-resC:
	}
	if res.err != nil {
		return "", fmt.Errorf("fetching credential: %w", res.err)
	}
	if res.code < 200 || res.code > 299 {
		body := res.body
		if detail := gjson.Get(body, "detail"); detail.Type == gjson.String {
			body = detail.String()
		}
		return "", &shared.StatusError{Op: "fetching credential", StatusCode: res.code, Body: body}
	}
	for _, path := range s.paths {
		if v := gjson.Get(res.body, path); v.Type == gjson.String && v.String() != "" {
			s.logger.Debug("credential fetched", zap.String("path", path))
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("no token at %v: %w", s.paths, shared.ErrNoCredential)
}
