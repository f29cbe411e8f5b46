// Package keyserver hands out short-lived realtime credentials so that API
// keys never leave the server.
package keyserver

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	SessionPath = "/session"
	HealthPath  = "/"
)

const healthMessage = "Voice shop key server is running!"

// SessionResponse is the body answered on SessionPath.
type SessionResponse struct {
	EphemeralKeyValue string          `json:"ephemeral_key_value"`
	ExpiresAt         int64           `json:"expires_at"`
	RawOpenAIResponse json.RawMessage `json:"raw_openai_response,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type Server struct {
	logger        shared.LoggerAdapter
	minter        Minter
	allowedOrigin string
	mintTimeout   time.Duration
	srv           *fasthttp.Server
}

func NewServer(logger shared.LoggerAdapter, minter Minter, allowedOrigin string) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if minter == nil {
		return nil, shared.ErrNoMinter
	}
	s := &Server{
		logger:        logger.With(zap.String("component", "keyserver")),
		minter:        minter,
		allowedOrigin: allowedOrigin,
		mintTimeout:   30 * time.Second,
	}
	s.srv = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "voice-shop-keyserver/" + shared.Version,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.mintTimeout + 5*time.Second,
	}
	return s, nil
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("key server listening", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

// Handle routes a single request.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	s.setCORS(ctx)
	if ctx.IsOptions() {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}
	switch string(ctx.Path()) {
	case SessionPath:
		if !ctx.IsPost() {
			s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		s.handleSession(ctx)
	case HealthPath:
		if !ctx.IsGet() {
			s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		s.writeJSON(ctx, fasthttp.StatusOK, map[string]string{"message": healthMessage})
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, "Not Found")
	}
}

func (s *Server) handleSession(ctx *fasthttp.RequestCtx) {
	s.logger.Info("session requested", zap.String("remote", ctx.RemoteAddr().String()))
	mintCtx, cancel := context.WithTimeout(ctx, s.mintTimeout)
	defer cancel()
	secret, err := s.minter.Mint(mintCtx)
	if err != nil {
		s.logger.Error("minting client secret", err)
		if statusErr, ok := shared.AsError[*shared.StatusError](err); ok && statusErr.StatusCode >= 400 {
			s.writeError(ctx, statusErr.StatusCode, statusErr.Body)
			return
		}
		s.writeError(ctx, fasthttp.StatusInternalServerError, "An unexpected backend error: "+err.Error())
		return
	}
	resp := SessionResponse{
		EphemeralKeyValue: secret.Value,
		ExpiresAt:         secret.ExpiresAt,
	}
	if secret.Raw != "" {
		resp.RawOpenAIResponse = json.RawMessage(secret.Raw)
	}
	s.writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) setCORS(ctx *fasthttp.RequestCtx) {
	if s.allowedOrigin == "" {
		return
	}
	h := &ctx.Response.Header
	h.Set("Access-Control-Allow-Origin", s.allowedOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if s.allowedOrigin != "*" {
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
	}
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, code int, detail string) {
	s.writeJSON(ctx, code, errorResponse{Detail: detail})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", err)
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
