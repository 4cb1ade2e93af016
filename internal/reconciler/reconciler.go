// Package reconciler decides how an edit call relates to the turns already
// recorded for its conversation and keeps that record current.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/InsulaLabs/txt2img/internal/analysis"
	"github.com/InsulaLabs/txt2img/internal/imageref"
	"github.com/InsulaLabs/txt2img/internal/metrics"
	"github.com/InsulaLabs/txt2img/internal/session"
)

type URLResolver interface {
	Resolve(ctx context.Context, logger *slog.Logger, urls []string) []string
}

type Disambiguator interface {
	Analyze(ctx context.Context, logger *slog.Logger, req analysis.Request) (*analysis.Result, error)
}

// Call is what the caller sent for one turn.
type Call struct {
	ConversationID string
	DialogueCount  int
	Instruction    string
	AttachedURLs   []string
}

// Turn is a turn ready for the downstream call.
type Turn struct {
	ConversationID string
	Record         session.TurnRecord
	Retry          bool

	history session.History
}

type Reconciler struct {
	tool     string
	store    *session.Store
	resolver URLResolver
	analyzer Disambiguator
	metrics  *metrics.Metrics
}

// New builds a reconciler. A nil analyzer disables disambiguation.
func New(tool string, store *session.Store, resolver URLResolver, analyzer Disambiguator, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		tool:     tool,
		store:    store,
		resolver: resolver,
		analyzer: analyzer,
		metrics:  m,
	}
}

// Begin loads the conversation, classifies the call and, for a new turn,
// resolves its images and writes the provisional record. A
// *analysis.DisambiguationError means the turn must not proceed.
func (r *Reconciler) Begin(ctx context.Context, logger *slog.Logger, call Call) (*Turn, error) {
	d := call.DialogueCount

	h, err := r.store.Load(logger, call.ConversationID, d)
	if err != nil {
		logger.Error("could not load history, starting empty", "error", err)
		r.metrics.SoftFailure(metrics.StageHistory)
		h = session.History{}
	}

	if last, ok := h.Last(); ok && last.DialogueCount == d {
		logger.Info("retry detected, reusing stored turn", "instruction", last.Instruction, "image_urls", last.ImageURLs)
		r.metrics.Retry(r.tool)
		last.ResponseContent = nil
		return &Turn{ConversationID: call.ConversationID, Record: last, Retry: true, history: h}, nil
	}

	urls := imageref.Collect(call.AttachedURLs, call.Instruction)
	logger.Info("processing image urls", "total", len(urls), "attached", len(call.AttachedURLs))
	if r.resolver != nil {
		urls = r.resolver.Resolve(ctx, logger, urls)
	}

	instruction := call.Instruction
	if d > 0 && r.analyzer != nil {
		res, err := r.analyzer.Analyze(ctx, logger, analysis.Request{
			Instruction:   call.Instruction,
			ProvidedURLs:  urls,
			DialogueCount: d,
			History:       h,
		})
		if err != nil {
			return nil, err
		}
		urls = res.TargetURLs
		if strings.TrimSpace(res.RevisedInstruction) != "" {
			instruction = res.RevisedInstruction
		}
		logger.Info("disambiguated turn", "instruction", instruction, "image_urls", urls)
	}

	rec := session.TurnRecord{
		DialogueCount: d,
		Instruction:   instruction,
		ImageURLs:     urls,
	}
	h = h.Upsert(rec)
	rec = h[indexOf(h, d)]

	if err := r.store.Save(logger, call.ConversationID, h); err != nil {
		logger.Error("failed to save provisional history", "error", err)
		r.metrics.SoftFailure(metrics.StageHistory)
	}
	return &Turn{ConversationID: call.ConversationID, Record: rec, history: h}, nil
}

// Finish records the downstream reply on the turn.
func (r *Reconciler) Finish(logger *slog.Logger, turn *Turn, content string) error {
	h := turn.history.Upsert(turn.Record.WithResponse(content))
	if err := r.store.Save(logger, turn.ConversationID, h); err != nil {
		r.metrics.SoftFailure(metrics.StageHistory)
		return err
	}
	turn.history = h
	return nil
}

// IsDisambiguation reports whether err came from resolving history.
func IsDisambiguation(err error) bool {
	var de *analysis.DisambiguationError
	return errors.As(err, &de)
}

func indexOf(h session.History, d int) int {
	for i := range h {
		if h[i].DialogueCount == d {
			return i
		}
	}
	return len(h) - 1
}
