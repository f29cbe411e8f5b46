package keyserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/bt-bridge/voice-shop/catalog"
	"github.com/bt-bridge/voice-shop/functions"
	"github.com/bt-bridge/voice-shop/shared"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap/zaptest"
)

type fakeMinter struct {
	secret *Secret
	err    error
	calls  int
}

func (f *fakeMinter) Mint(context.Context) (*Secret, error) {
	f.calls++
	return f.secret, f.err
}

func listen(t *testing.T, handler fasthttp.RequestHandler) *fasthttputil.InmemoryListener {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return ln
}

func do(t *testing.T, ln *fasthttputil.InmemoryListener, method, path string) (int, *fasthttp.ResponseHeader, string) {
	t.Helper()
	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://keys.test" + path)
	req.Header.SetMethod(method)
	require.NoError(t, client.Do(req, resp))
	header := new(fasthttp.ResponseHeader)
	resp.Header.CopyTo(header)
	return resp.StatusCode(), header, string(resp.Body())
}

func newTestServer(t *testing.T, minter Minter, origin string) *fasthttputil.InmemoryListener {
	t.Helper()
	s, err := NewServer(shared.NewLogger(zaptest.NewLogger(t)), minter, origin)
	require.NoError(t, err)
	return listen(t, s.Handle)
}

func TestSessionEndpoint(t *testing.T) {
	minter := &fakeMinter{secret: &Secret{Value: "ek_123", ExpiresAt: 1700000000, Raw: `{"value":"ek_123"}`}}
	ln := newTestServer(t, minter, "*")

	code, header, body := do(t, ln, fasthttp.MethodPost, SessionPath)
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, "application/json", string(header.ContentType()))
	assert.Equal(t, "*", string(header.Peek("Access-Control-Allow-Origin")))
	assert.Equal(t, "ek_123", gjson.Get(body, "ephemeral_key_value").String())
	assert.Equal(t, int64(1700000000), gjson.Get(body, "expires_at").Int())
	assert.Equal(t, "ek_123", gjson.Get(body, "raw_openai_response.value").String())
	assert.Equal(t, 1, minter.calls)
}

func TestSessionEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantDetail string
	}{
		{
			name:       "upstream status",
			err:        &shared.StatusError{Op: "minting client secret", StatusCode: 401, Body: "Error from OpenAI: bad key"},
			wantCode:   401,
			wantDetail: "Error from OpenAI: bad key",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantCode:   500,
			wantDetail: "An unexpected backend error: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln := newTestServer(t, &fakeMinter{err: tt.err}, "")
			code, header, body := do(t, ln, fasthttp.MethodPost, SessionPath)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantDetail, gjson.Get(body, "detail").String())
			assert.Empty(t, header.Peek("Access-Control-Allow-Origin"))
		})
	}
}

func TestRouting(t *testing.T) {
	minter := new(fakeMinter)
	ln := newTestServer(t, minter, "http://localhost:5500")

	code, _, body := do(t, ln, fasthttp.MethodGet, HealthPath)
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, healthMessage, gjson.Get(body, "message").String())

	code, header, _ := do(t, ln, fasthttp.MethodOptions, SessionPath)
	assert.Equal(t, fasthttp.StatusNoContent, code)
	assert.Equal(t, "http://localhost:5500", string(header.Peek("Access-Control-Allow-Origin")))
	assert.Equal(t, "true", string(header.Peek("Access-Control-Allow-Credentials")))

	code, _, _ = do(t, ln, fasthttp.MethodGet, SessionPath)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, code)
	code, _, body = do(t, ln, fasthttp.MethodGet, "/nope")
	assert.Equal(t, fasthttp.StatusNotFound, code)
	assert.Equal(t, "Not Found", gjson.Get(body, "detail").String())
	assert.Zero(t, minter.calls)

	_, err := NewServer(nil, minter, "")
	assert.ErrorIs(t, err, shared.ErrNoLogger)
	_, err = NewServer(shared.NewNopLogger(), nil, "")
	assert.ErrorIs(t, err, shared.ErrNoMinter)
}

// upstream fakes the client secrets endpoint and records the last request body.
func upstream(t *testing.T, code int, answer string, seen *string) option.RequestOption {
	ln := listen(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/v1/realtime/client_secrets", string(ctx.Path()))
		assert.Equal(t, "Bearer sk-test", string(ctx.Request.Header.Peek("Authorization")))
		*seen = string(ctx.PostBody())
		ctx.SetStatusCode(code)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(answer)
	})
	return option.WithHTTPClient(&http.Client{Transport: &http.Transport{
		DialContext: func(context.Context, string, string) (net.Conn, error) { return ln.Dial() },
	}})
}

func newTestMinter(t *testing.T, transport option.RequestOption) *OpenAIMinter {
	t.Helper()
	registry := functions.NewRegistry()
	require.NoError(t, catalog.Register(registry))
	m, err := NewOpenAIMinter(
		shared.NewLogger(zaptest.NewLogger(t)),
		"sk-test",
		shared.KeyServerConfig{Model: "gpt-realtime", Voice: "alloy", Instructions: "be brief"},
		registry,
		transport,
		option.WithBaseURL("http://openai.test/v1/"),
		option.WithMaxRetries(0),
	)
	require.NoError(t, err)
	return m
}

func TestOpenAIMinter(t *testing.T) {
	var seen string
	m := newTestMinter(t, upstream(t, 200, `{"value":"ek_abc","expires_at":1700000600,"session":{"type":"realtime"}}`, &seen))

	secret, err := m.Mint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ek_abc", secret.Value)
	assert.Equal(t, int64(1700000600), secret.ExpiresAt)

	assert.Equal(t, "gpt-realtime", gjson.Get(seen, "session.model").String())
	assert.Equal(t, "be brief", gjson.Get(seen, "session.instructions").String())
	assert.Equal(t, "alloy", gjson.Get(seen, "session.audio.output.voice").String())
	assert.Equal(t, "auto", gjson.Get(seen, "session.tool_choice").String())
	assert.Equal(t, catalog.FilterProductsName, gjson.Get(seen, "session.tools.0.name").String())
	assert.Equal(t, "category", gjson.Get(seen, "session.tools.0.parameters.required.0").String())
}

func TestOpenAIMinterUpstreamError(t *testing.T) {
	var seen string
	m := newTestMinter(t, upstream(t, 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key","param":null}}`, &seen))

	_, err := m.Mint(context.Background())
	statusErr, ok := shared.AsError[*shared.StatusError](err)
	require.True(t, ok)
	assert.Equal(t, 401, statusErr.StatusCode)
	assert.Equal(t, "Error from OpenAI: Incorrect API key provided", statusErr.Body)
}

func TestNewOpenAIMinterPreconditions(t *testing.T) {
	registry := functions.NewRegistry()
	_, err := NewOpenAIMinter(nil, "sk", shared.KeyServerConfig{}, registry)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
	_, err = NewOpenAIMinter(shared.NewNopLogger(), "", shared.KeyServerConfig{}, registry)
	assert.ErrorIs(t, err, shared.ErrNoAPIKey)
	_, err = NewOpenAIMinter(shared.NewNopLogger(), "sk", shared.KeyServerConfig{}, nil)
	assert.ErrorIs(t, err, shared.ErrNoToolRegistry)
}
