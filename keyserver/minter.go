package keyserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/bt-bridge/voice-shop/functions"
	"github.com/bt-bridge/voice-shop/shared"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"go.uber.org/zap"
)

// Secret is a short-lived client credential.
type Secret struct {
	Value     string
	ExpiresAt int64
	// Raw is the upstream response body, if any.
	Raw string
}

type Minter interface {
	Mint(ctx context.Context) (*Secret, error)
}

// OpenAIMinter mints realtime client secrets preconfigured with the model,
// voice, instructions and every tool of a registry.
type OpenAIMinter struct {
	logger  shared.LoggerAdapter
	secrets realtime.ClientSecretService
	session realtime.RealtimeSessionCreateRequestParam
}

func NewOpenAIMinter(
	logger shared.LoggerAdapter,
	apiKey string,
	cfg shared.KeyServerConfig,
	registry *functions.Registry,
	opts ...option.RequestOption,
) (*OpenAIMinter, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if registry == nil {
		return nil, shared.ErrNoToolRegistry
	}
	session := registry.SessionConfig()
	session.Model = cfg.Model
	if cfg.Instructions != "" {
		session.Instructions = param.NewOpt(cfg.Instructions)
	}
	if cfg.Voice != "" {
		session.Audio = realtime.RealtimeAudioConfigParam{
			Output: realtime.RealtimeAudioConfigOutputParam{
				Voice: realtime.RealtimeAudioConfigOutputVoice(cfg.Voice),
			},
		}
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIMinter{
		logger:  logger.With(zap.String("model", cfg.Model)),
		secrets: client.Realtime.ClientSecrets,
		session: session,
	}, nil
}

func (m *OpenAIMinter) Mint(ctx context.Context) (*Secret, error) {
	session := m.session
	resp, err := m.secrets.New(ctx, realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{OfRealtime: &session},
	})
	if err != nil {
		if apiErr, ok := shared.AsError[*openai.Error](err); ok {
			detail := apiErr.Message
			if detail == "" {
				detail = apiErr.RawJSON()
			}
			return nil, &shared.StatusError{
				Op:         "minting client secret",
				StatusCode: apiErr.StatusCode,
				Body:       "Error from OpenAI: " + detail,
			}
		}
		return nil, fmt.Errorf("minting client secret: %w", err)
	}
	if resp.Value == "" {
		return nil, errors.New("client secret missing from upstream response")
	}
	m.logger.Debug("client secret minted", zap.Int64("expiresAt", resp.ExpiresAt))
	return &Secret{
		Value:     resp.Value,
		ExpiresAt: resp.ExpiresAt,
		Raw:       resp.RawJSON(),
	}, nil
}
