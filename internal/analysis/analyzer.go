// Package analysis runs each transcribed utterance through an LLM to produce
// a markdown report and a structured JSON payload.
//
// Two modes exist. Deep analysis sends the utterance together with the
// speaker, character profile, recent history and paralinguistic features,
// and expects free-form markdown with an embedded JSON block. Quick analysis
// is a cheaper JSON-mode summary used when the deep path fails or its
// circuit breaker is open. When both fail the analysis is empty.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/types"
)

// Analysis modes recorded in [types.Analysis.Mode].
const (
	ModeDeep  = "deep"
	ModeQuick = "quick"
	ModeNone  = "none"
)

// Notices prepended to degraded reports.
const (
	breakerNotice = "### Circuit breaker engaged\n\n" +
		"> The deep analysis service did not respond correctly; switched to summary mode.\n\n"
	quickReportFmt = "### Quick analysis (degraded mode)\n\n**Summary**: %s\n\n" +
		"*(Switched to quick mode because of system load or network problems.)*"
)

// Request is the input of one analysis.
type Request struct {
	Text        string
	SpeakerID   string
	SpeakerName string

	// CharacterNames lists the known characters involved, if any.
	CharacterNames []string

	// CharacterProfile describes the matched character, if any.
	CharacterProfile string

	// History holds "speaker: text" lines of the preceding segments, oldest
	// first.
	History []string

	Features types.Features
	Emotion  map[string]float64
}

// Analyzer produces [types.Analysis] values. It is safe for concurrent use.
type Analyzer struct {
	deep       llm.Provider
	quick      llm.Provider
	breaker    *resilience.CircuitBreaker
	strategies []ParseStrategy
	maxTokens  int
	metrics    *observe.Metrics

	prompts atomic.Pointer[compiled]
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithQuickProvider sets a separate, typically cheaper, backend for quick
// analysis. By default the deep backend is reused.
func WithQuickProvider(p llm.Provider) Option {
	return func(a *Analyzer) { a.quick = p }
}

// WithBreaker replaces the circuit breaker that guards deep analysis.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *Analyzer) { a.breaker = cb }
}

// WithStrategies replaces the response parse strategies.
func WithStrategies(s ...ParseStrategy) Option {
	return func(a *Analyzer) { a.strategies = s }
}

// WithMaxTokens caps the completion length of both modes.
func WithMaxTokens(n int) Option {
	return func(a *Analyzer) { a.maxTokens = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New creates an Analyzer backed by deep. It fails only when prompts do not
// compile.
func New(deep llm.Provider, prompts Prompts, opts ...Option) (*Analyzer, error) {
	c, err := compile(prompts)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		deep:       deep,
		quick:      deep,
		strategies: DefaultStrategies(),
		metrics:    observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.breaker == nil {
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "deep-analysis"})
	}
	a.prompts.Store(c)
	return a, nil
}

// SetPrompts swaps the prompt templates used by subsequent calls.
func (a *Analyzer) SetPrompts(p Prompts) error {
	c, err := compile(p)
	if err != nil {
		return err
	}
	a.prompts.Store(c)
	return nil
}

// Analyze runs deep analysis, falling back to quick analysis. The returned
// analysis is always usable; the error explains why it is empty when both
// modes failed. Context cancellation is returned as is.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (types.Analysis, error) {
	if a.deep == nil && a.quick == nil {
		return empty(), ErrNoProvider
	}
	start := time.Now()
	defer a.metrics.RecordStage(ctx, observe.StageAnalysis, start)

	p := a.prompts.Load()
	data := newPromptData(req)

	res, deepErr := a.runDeep(ctx, p, data)
	if deepErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return empty(), ctx.Err()
	}
	slog.Warn("analysis: deep analysis failed, switching to quick mode",
		"speaker_id", req.SpeakerID, "err", deepErr)

	res, quickErr := a.runQuick(ctx, p, data)
	if quickErr != nil {
		if ctx.Err() != nil {
			return empty(), ctx.Err()
		}
		return empty(), fmt.Errorf("analysis: deep: %w; quick: %w", deepErr, quickErr)
	}
	res.Report = breakerNotice + res.Report
	return res, nil
}

// Quick runs quick analysis only.
func (a *Analyzer) Quick(ctx context.Context, req Request) (types.Analysis, error) {
	return a.runQuick(ctx, a.prompts.Load(), newPromptData(req))
}

func (a *Analyzer) runDeep(ctx context.Context, p *compiled, data promptData) (types.Analysis, error) {
	if a.deep == nil {
		return types.Analysis{}, ErrNoProvider
	}
	prompt, err := render(p.deep, data)
	if err != nil {
		return types.Analysis{}, err
	}

	var content string
	err = a.breaker.Execute(func() error {
		resp, err := a.deep.Complete(ctx, llm.CompletionRequest{
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			Temperature: p.deepTemp,
			MaxTokens:   a.maxTokens,
		})
		if err != nil {
			return err
		}
		if resp.Content == "" {
			return errEmptyResponse
		}
		content = resp.Content
		return nil
	})
	if err != nil {
		return types.Analysis{}, err
	}

	res, strategy, err := Parse(content, a.strategies)
	if err != nil {
		return types.Analysis{}, err
	}
	slog.Debug("analysis: deep analysis parsed", "strategy", strategy)
	res.Mode = ModeDeep
	return res, nil
}

func (a *Analyzer) runQuick(ctx context.Context, p *compiled, data promptData) (types.Analysis, error) {
	if a.quick == nil {
		return types.Analysis{}, ErrNoProvider
	}
	prompt, err := render(p.quick, data)
	if err != nil {
		return types.Analysis{}, err
	}
	resp, err := a.quick.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: p.quickTemp,
		MaxTokens:   a.maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return types.Analysis{}, fmt.Errorf("analysis: quick: %w", err)
	}

	structured, ok := decodeObject(resp.Content)
	if !ok {
		parsed, _, perr := Parse(resp.Content, []ParseStrategy{BareObject, RepairedJSON})
		if perr != nil {
			structured = map[string]any{"error": "invalid JSON"}
		} else {
			structured = parsed.Structured
		}
	}

	summary, _ := structured["summary"].(string)
	if summary == "" {
		summary = "none"
	}
	return types.Analysis{
		Structured: structured,
		Report:     fmt.Sprintf(quickReportFmt, summary),
		Mode:       ModeQuick,
	}, nil
}

var errEmptyResponse = errors.New("analysis: empty model response")

// ErrNoProvider is returned when no language model is configured.
var ErrNoProvider = errors.New("analysis: no language model configured")

func empty() types.Analysis {
	return types.Analysis{Structured: map[string]any{}, Mode: ModeNone}
}
