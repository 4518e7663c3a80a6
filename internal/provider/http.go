package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/types"
)

// HTTPProviderConfig configures a generic remote chat-completion backend,
// grounded on providers/anthropic/provider.go's client-construction and
// custom-header pattern. DS-Router doesn't speak any single vendor's
// wire format, since per-vendor translation is explicitly out of scope;
// instead it speaks a minimal OpenAI-compatible chat/completions shape,
// the lowest common denominator most hosted chat backends converge on.
type HTTPProviderConfig struct {
	Name            string
	Tier            types.Tier
	BaseURL         string
	Model           string
	APIKey          string
	AuthHeader      string // defaults to "Authorization: Bearer <key>"
	CostPer1kPrompt float64
	CostPer1kOutput float64
	MaxOutputTokens int
	Timeout         time.Duration

	// Credentials, when set, overrides APIKey with a rotating source
	// (e.g. a round-robin pool across several keys for one vendor) so
	// the core only ever sees an opaque string at call time, never the
	// pool's membership or rotation policy.
	Credentials CredentialSource
}

// CredentialSource yields the API key to use for the next call. The
// zero value of HTTPProviderConfig leaves Credentials nil, in which
// case the provider falls back to the static APIKey field.
type CredentialSource interface {
	Next() string
}

// StaticCredential is the trivial CredentialSource wrapping one key.
type StaticCredential string

func (s StaticCredential) Next() string { return string(s) }

// RoundRobinCredentials cycles through a fixed pool of keys, one per
// call, for simple load-balancing/failover across several credentials
// for the same provider.
type RoundRobinCredentials struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewRoundRobinCredentials constructs a pool over keys. Panics if keys
// is empty, since a provider with no usable credential cannot serve.
func NewRoundRobinCredentials(keys []string) *RoundRobinCredentials {
	if len(keys) == 0 {
		panic("provider: RoundRobinCredentials requires at least one key")
	}
	return &RoundRobinCredentials{keys: keys}
}

func (r *RoundRobinCredentials) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return k
}

// HTTPProvider is a remote tier implementation speaking a minimal
// OpenAI-compatible streaming chat API over SSE.
type HTTPProvider struct {
	cfg       HTTPProviderConfig
	client    *http.Client
	estimator ConfidenceEstimator
	logger    *zap.Logger
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(cfg HTTPProviderConfig, estimator ConfidenceEstimator, logger *zap.Logger) *HTTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		estimator: estimator,
		logger:    logger.With(zap.String("provider", cfg.Name)),
	}
}

func (p *HTTPProvider) Name() string     { return p.cfg.Name }
func (p *HTTPProvider) Tier() types.Tier { return p.cfg.Tier }

func (p *HTTPProvider) Descriptor() types.ProviderDescriptor {
	return types.ProviderDescriptor{
		Name:              p.cfg.Name,
		Tier:              p.cfg.Tier,
		CostPer1kPrompt:   p.cfg.CostPer1kPrompt,
		CostPer1kOutput:   p.cfg.CostPer1kOutput,
		MaxOutputTokens:   p.cfg.MaxOutputTokens,
		SupportsStreaming: true,
	}
}

type chatWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatWireRequest struct {
	Model     string            `json:"model"`
	Messages  []chatWireMessage `json:"messages"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Stream    bool              `json:"stream"`
}

type chatWireDelta struct {
	Content string `json:"content"`
}

type chatWireChoice struct {
	Delta        chatWireDelta `json:"delta"`
	FinishReason string        `json:"finish_reason"`
}

type chatWireChunk struct {
	Choices []chatWireChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) apiKey() string {
	if p.cfg.Credentials != nil {
		return p.cfg.Credentials.Next()
	}
	return p.cfg.APIKey
}

func (p *HTTPProvider) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	key := p.apiKey()
	if p.cfg.AuthHeader != "" {
		req.Header.Set(p.cfg.AuthHeader, key)
	} else {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// Stream implements Provider. It always streams over SSE, even for a
// caller that only wants the final chunk, unifying unary and streaming
// behind one contract.
func (p *HTTPProvider) Stream(ctx context.Context, req ChatRequest, limits types.Limits) (<-chan types.StreamChunk, error) {
	ctx, cancel := Deadline(ctx, limits.DeadlineMs)

	msgs := make([]chatWireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatWireMessage{Role: string(m.Role), Content: m.Content})
	}
	maxTokens := limits.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxOutputTokens
	}

	wire := chatWireRequest{Model: p.cfg.Model, Messages: msgs, MaxTokens: maxTokens, Stream: true}
	payload, err := json.Marshal(wire)
	if err != nil {
		cancel()
		return nil, types.NewError(types.ErrInternal, "encode request").WithCause(err).WithProvider(p.cfg.Name)
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, types.NewError(types.ErrInternal, "build request").WithCause(err).WithProvider(p.cfg.Name)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransportError(err, p.cfg.Name)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		defer cancel()
		return nil, classifyHTTPStatus(resp, p.cfg.Name)
	}

	ch := make(chan types.StreamChunk)
	go p.pump(ctx, cancel, resp, ch)
	return ch, nil
}

func (p *HTTPProvider) pump(ctx context.Context, cancel context.CancelFunc, resp *http.Response, ch chan<- types.StreamChunk) {
	defer cancel()
	defer resp.Body.Close()
	defer close(ch)

	start := time.Now()
	reader := bufio.NewReader(resp.Body)
	var text strings.Builder
	var promptTokens, completionTokens int
	finish := types.FinishStop

	for {
		select {
		case <-ctx.Done():
			ch <- types.StreamChunk{IsFinal: true, Outcome: &types.GenerationOutcome{
				Provider: p.cfg.Name, FinishReason: types.FinishCancelled,
				Err: types.NewError(types.ErrCancelled, "stream cancelled"),
			}}
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				ch <- types.StreamChunk{IsFinal: true, Outcome: &types.GenerationOutcome{
					Provider: p.cfg.Name, FinishReason: types.FinishError,
					Err: types.NewError(types.ErrProviderTransient, err.Error()).WithKind(types.KindUnavailable).WithRetryable(true).WithProvider(p.cfg.Name),
				}}
				return
			}
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var wc chatWireChunk
		if jsonErr := json.Unmarshal([]byte(data), &wc); jsonErr != nil {
			continue
		}
		if wc.Usage != nil {
			promptTokens = wc.Usage.PromptTokens
			completionTokens = wc.Usage.CompletionTokens
		}
		for _, c := range wc.Choices {
			if c.Delta.Content != "" {
				text.WriteString(c.Delta.Content)
				completionTokens++
				ch <- types.StreamChunk{TextDelta: c.Delta.Content, PartialTokensOutput: completionTokens}
			}
			if c.FinishReason != "" {
				finish = mapFinishReason(c.FinishReason)
			}
		}
	}

	usage := types.TokenUsage{Prompt: promptTokens, Output: completionTokens}
	desc := p.Descriptor()
	confidence := p.estimator.Estimate(text.String(), finish)

	ch <- types.StreamChunk{
		IsFinal: true,
		Outcome: &types.GenerationOutcome{
			Text:         text.String(),
			FinishReason: finish,
			Tokens:       usage,
			LatencyMs:    float64(time.Since(start).Milliseconds()),
			Provider:     p.cfg.Name,
			Confidence:   confidence,
			CostMicro:    CostMicro(usage, desc),
		},
	}
}

func mapFinishReason(s string) types.FinishReason {
	switch s {
	case "length":
		return types.FinishLength
	case "content_filter":
		return types.FinishFiltered
	default:
		return types.FinishStop
	}
}

func classifyTransportError(err error, providerName string) error {
	return types.NewError(types.ErrProviderTransient, err.Error()).
		WithKind(types.KindUnavailable).WithRetryable(true).WithProvider(providerName)
}

func classifyHTTPStatus(resp *http.Response, providerName string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrProviderPermanent, msg).WithKind(types.KindAuth).WithRetryable(false).WithProvider(providerName)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrProviderTransient, msg).WithKind(types.KindRateLimited).WithRetryable(true).WithProvider(providerName)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.NewError(types.ErrProviderTransient, msg).WithKind(types.KindTimeout).WithRetryable(true).WithProvider(providerName)
	case http.StatusBadRequest:
		return types.NewError(types.ErrProviderPermanent, msg).WithKind(types.KindInvalidResponse).WithRetryable(false).WithProvider(providerName)
	default:
		return types.NewError(types.ErrProviderTransient, msg).WithKind(types.KindUnavailable).WithRetryable(true).WithProvider(providerName)
	}
}

// newID generates a fresh request-scoped identifier.
func newID() string { return uuid.NewString() }
