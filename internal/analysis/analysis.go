// Package analysis resolves references to earlier turns ("make the last one
// bigger") with one auxiliary language model call.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/InsulaLabs/txt2img/internal/imageref"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/session"
	"github.com/InsulaLabs/txt2img/internal/upstream"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const Temperature = 0.2

// UserMessage is shown to the caller whenever disambiguation fails.
const UserMessage = "Unable to locate the historical image, please specify the image you want to modify"

const (
	ReasonCall          = "call"
	ReasonMalformed     = "malformed"
	ReasonMissingFields = "missing_fields"
)

type DisambiguationError struct {
	Reason string
	Err    error
}

func (e *DisambiguationError) Error() string {
	return fmt.Sprintf("disambiguation failed (%s): %v", e.Reason, e.Err)
}

func (e *DisambiguationError) Unwrap() error {
	return e.Err
}

// NewLLM builds the auxiliary model client for an OpenAI-compatible root.
func NewLLM(apiRoot, apiKey, model string) (llms.Model, error) {
	return openai.New(
		openai.WithModel(model),
		openai.WithBaseURL(apiRoot),
		openai.WithToken(apiKey),
	)
}

type Request struct {
	Instruction   string
	ProvidedURLs  []string
	DialogueCount int
	History       session.History
}

type Result struct {
	TargetURLs         []string
	RevisedInstruction string
}

type Analyzer struct {
	llm     llms.Model
	metrics *metrics.Metrics
}

func New(llm llms.Model, m *metrics.Metrics) *Analyzer {
	return &Analyzer{llm: llm, metrics: m}
}

// Analyze asks the model which earlier images the instruction is about.
// Every failure is a *DisambiguationError.
func (a *Analyzer) Analyze(ctx context.Context, logger *slog.Logger, req Request) (*Result, error) {
	prompt := BuildPrompt(req.Instruction, req.ProvidedURLs, req.History, req.DialogueCount)
	logger.Debug("disambiguation prompt", "prompt", prompt)

	callCtx, cancel := context.WithTimeout(ctx, upstream.ChatTimeout)
	defer cancel()
	content, err := llms.GenerateFromSinglePrompt(callCtx, a.llm, prompt, llms.WithTemperature(Temperature))
	if err != nil {
		a.metrics.Disambiguation(ReasonCall)
		return nil, &DisambiguationError{Reason: ReasonCall, Err: err}
	}
	logger.Debug("disambiguation reply", "content", content)

	targets, revised, err := parseReply(content)
	if err != nil {
		logger.Warn("disambiguation reply unusable", "error", err, "content", content)
		if de, ok := err.(*DisambiguationError); ok {
			a.metrics.Disambiguation(de.Reason)
		}
		return nil, err
	}

	urls := filterTargets(logger, targets, req.History.Before(req.DialogueCount), req.ProvidedURLs)
	a.metrics.Disambiguation("ok")
	return &Result{TargetURLs: urls, RevisedInstruction: revised}, nil
}

// filterTargets keeps only model picked URLs that exist in history or were
// supplied with this call. When the model named images but none of them are
// known, the most recent turn with images stands in. Supplied URLs the
// model left out are appended.
func filterTargets(logger *slog.Logger, targets []string, prior session.History, provided []string) []string {
	known := map[string]struct{}{}
	for _, r := range prior {
		for _, u := range r.CandidateURLs() {
			known[u] = struct{}{}
		}
	}
	for _, u := range provided {
		known[u] = struct{}{}
	}

	var kept []string
	for _, u := range targets {
		if _, ok := known[u]; ok {
			kept = append(kept, u)
		} else {
			logger.Warn("dropping unknown target url", "url", u)
		}
	}

	if len(targets) > 0 && len(kept) == 0 {
		for i := len(prior) - 1; i >= 0; i-- {
			if c := prior[i].CandidateURLs(); len(c) > 0 {
				logger.Info("no target matched history, using most recent turn", "dialogue_count", prior[i].DialogueCount)
				kept = c
				break
			}
		}
	}

	for _, u := range provided {
		if !slices.Contains(kept, u) {
			kept = append(kept, u)
		}
	}
	return imageref.Dedup(kept)
}
