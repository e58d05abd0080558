package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
	"github.com/mohammad-safakhou/newsrag/provider"
)

// ProviderOptions configures a remote embedding backend.
type ProviderOptions struct {
	Version       string
	Dimensions    int
	BatchSize     int
	RatePerSecond float64
	Logger        *zap.Logger
	Metrics       *telemetry.Metrics
}

// Provider batches texts to a remote embedding API, throttled to stay under
// the provider's rate limit.
type Provider struct {
	client  provider.Embedder
	version string
	dims    int
	batch   int
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func NewProvider(client provider.Embedder, opts ProviderOptions) *Provider {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Provider{
		client:  client,
		version: opts.Version,
		dims:    opts.Dimensions,
		batch:   opts.BatchSize,
		limiter: rate.NewLimiter(limit, 1),
		logger:  opts.Logger.Named("embedding"),
		metrics: opts.Metrics,
	}
}

func (p *Provider) Dimensions() int { return p.dims }

func (p *Provider) ModelVersion() string { return p.version }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := p.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res[0].Vector, res[0].Err
}

func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([]Result, error) {
	out := make([]Result, len(texts))
	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i].Err = errs.Validation("cannot embed empty text")
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += p.batch {
		end := min(start+p.batch, len(pending))
		chunk := pending[start:end]
		inputs := make([]string, len(chunk))
		for j, idx := range chunk {
			inputs[j] = texts[idx]
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errs.RetrievalUnavailable("embedding throttled", err)
		}
		vecs, err := p.client.CreateEmbedding(ctx, inputs)
		if err != nil {
			p.metrics.ObserveEmbed("error", len(chunk))
			p.logger.Warn("embedding batch failed", zap.Int("batch", len(chunk)), zap.Error(err))
			if errs.IsKind(err, errs.KindRetrievalUnavailable) {
				return nil, err
			}
			return nil, errs.RetrievalUnavailable("embedding service failed", err)
		}
		if len(vecs) != len(chunk) {
			return nil, errs.RetrievalUnavailable(fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(vecs), len(chunk)), nil)
		}
		for j, idx := range chunk {
			v := vecs[j]
			if p.dims > 0 && len(v) != p.dims {
				out[idx].Err = errs.Internal(fmt.Sprintf("embedding has %d dimensions, expected %d", len(v), p.dims), nil)
				continue
			}
			out[idx].Vector = Normalize(append([]float32(nil), v...))
		}
		p.metrics.ObserveEmbed("ok", len(chunk))
	}
	return out, nil
}
