package realtime

import (
	"context"
	"testing"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestCredentialFetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "backend field", status: 200, body: `{"ephemeral_key_value":"ek_1","raw_openai_response":{}}`, want: "ek_1"},
		{name: "session response", status: 200, body: `{"client_secret":{"value":"ek_2","expires_at":1}}`, want: "ek_2"},
		{name: "client secret response", status: 201, body: `{"value":"ek_3","expires_at":1}`, want: "ek_3"},
		{name: "first path wins", status: 200, body: `{"value":"late","ephemeral_key_value":"early"}`, want: "early"},
		{name: "missing token", status: 200, body: `{"id":"sess"}`, wantErr: shared.ErrNoCredential},
		{name: "non string token", status: 200, body: `{"ephemeral_key_value":42}`, wantErr: shared.ErrNoCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dial := serve(t, func(ctx *fasthttp.RequestCtx) {
				assert.Equal(t, fasthttp.MethodPost, string(ctx.Method()))
				ctx.SetStatusCode(tt.status)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(tt.body)
			})
			src, err := NewCredentialSource(shared.NewNopLogger(), "http://keys.test/session", nil, dial)
			require.NoError(t, err)

			got, err := src.Fetch(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialFetchStatus(t *testing.T) {
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"detail":"OpenAI API Key not configured on the server."}`)
	})
	src, err := NewCredentialSource(shared.NewNopLogger(), "http://keys.test/session", nil, dial)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	statusErr, ok := shared.AsError[*shared.StatusError](err)
	require.True(t, ok)
	assert.Equal(t, 500, statusErr.StatusCode)
	assert.Equal(t, "OpenAI API Key not configured on the server.", statusErr.Body)
}

func TestCredentialCustomPaths(t *testing.T) {
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"data":{"token":"tok"}}`)
	})
	src, err := NewCredentialSource(shared.NewNopLogger(), "http://keys.test/session", []string{"data.token"}, dial)
	require.NoError(t, err)
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	_, err = NewCredentialSource(nil, "http://x", nil, nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
	_, err = NewCredentialSource(shared.NewNopLogger(), "", nil, nil)
	assert.Error(t, err)
}
