package realtime

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const DefaultCallsURL = "https://api.openai.com/v1/realtime/calls"

type NegotiatorOption func(n *Negotiator)

// WithDial replaces the HTTP dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) NegotiatorOption {
	return func(n *Negotiator) { n.client.Dial = dial }
}

func WithICEServers(urls ...string) NegotiatorOption {
	return func(n *Negotiator) {
		if len(urls) == 0 {
			return
		}
		n.iceServers = []webrtc.ICEServer{{URLs: urls}}
	}
}

// WithRemoteTrack installs handler on every transport before the exchange,
// so the remote audio track is never missed.
func WithRemoteTrack(handler TrackRemoteHandler) NegotiatorOption {
	return func(n *Negotiator) { n.remoteTH = handler }
}

func WithTimeout(timeout time.Duration) NegotiatorOption {
	return func(n *Negotiator) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// Negotiator performs the one-shot SDP offer/answer exchange.
type Negotiator struct {
	logger     shared.LoggerAdapter
	endpoint   *url.URL
	model      string
	client     *fasthttp.Client
	timeout    time.Duration
	iceServers []webrtc.ICEServer
	remoteTH   TrackRemoteHandler
}

func NewNegotiator(logger shared.LoggerAdapter, endpoint, model string, opts ...NegotiatorOption) (*Negotiator, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if endpoint == "" {
		endpoint = DefaultCallsURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing negotiation endpoint: %w", err)
	}
	n := &Negotiator{
		logger:   logger,
		endpoint: u,
		model:    model,
		client:   &fasthttp.Client{Name: "voice-shop/" + shared.Version},
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Negotiate builds a transport carrying track, exchanges descriptions with
// the remote endpoint and returns the established transport. On failure
// the partially built transport is closed.
func (n *Negotiator) Negotiate(ctx context.Context, credential string, track webrtc.TrackLocal) (_ *Transport, err error) {
	if credential == "" {
		return nil, shared.ErrNoCredential
	}
	if track == nil {
		return nil, shared.ErrNoAudioTrack
	}
	t, err := newTransport(context.WithoutCancel(ctx), n.logger, webrtc.Configuration{ICEServers: n.iceServers})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if cerr := t.Close(); cerr != nil {
			n.logger.Error("releasing transport after failed negotiation", cerr)
		}
	}()

	if n.remoteTH != nil {
		t.OnRemoteTrack(n.remoteTH)
	}
	if err := t.addAudio(track); err != nil {
		return nil, err
	}
	if err := t.createControlChannel(); err != nil {
		return nil, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fmt.Errorf("gathering candidates: %w", ctx.Err())
	}

	answer, err := n.exchange(ctx, credential, t.localDescription().SDP)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	n.logger.Info("session negotiated", zap.String("endpoint", n.endpoint.Host), zap.String("model", n.model))
	return t, nil
}

func (n *Negotiator) exchange(ctx context.Context, credential, offer string) (string, error) {
	u := *n.endpoint
	if n.model != "" {
		q := u.Query()
		q.Set("model", n.model)
		u.RawQuery = q.Encode()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(u.String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.SetContentType("application/sdp")
	req.SetBodyString(offer)

	// The request goroutine owns req and resp, even after ctx is done.
	resC := make(chan httpResult, 1)
	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		err := n.client.DoTimeout(req, resp, n.timeout)
		resC <- httpResult{code: resp.StatusCode(), body: string(resp.Body()), err: err}
	}()

	var res httpResult
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("posting offer: %w", ctx.Err())
	case res = <-resC:
	}
	if res.err != nil {
		return "", fmt.Errorf("posting offer: %w", res.err)
	}
	if res.code < 200 || res.code > 299 {
		return "", &shared.StatusError{Op: "negotiating session", StatusCode: res.code, Body: res.body}
	}
	return res.body, nil
}

type httpResult struct {
	code int
	body string
	err  error
}
