package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/InsulaLabs/txt2img/internal/analysis"
	"github.com/InsulaLabs/txt2img/internal/kvstore"
	"github.com/InsulaLabs/txt2img/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type recordingResolver struct {
	calls [][]string
}

func (r *recordingResolver) Resolve(_ context.Context, _ *slog.Logger, urls []string) []string {
	r.calls = append(r.calls, urls)
	return urls
}

type fakeAnalyzer struct {
	result *analysis.Result
	err    error
	calls  []analysis.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *slog.Logger, req analysis.Request) (*analysis.Result, error) {
	f.calls = append(f.calls, req)
	return f.result, f.err
}

type fixture struct {
	mem      *kvstore.Memory
	store    *session.Store
	resolver *recordingResolver
	analyzer *fakeAnalyzer
	rec      *Reconciler
}

func newFixture() *fixture {
	mem := kvstore.NewMemory()
	f := &fixture{
		mem:      mem,
		store:    session.NewStore(session.NewKVStorage(mem), "s3edit"),
		resolver: &recordingResolver{},
		analyzer: &fakeAnalyzer{},
	}
	f.rec = New("s3edit", f.store, f.resolver, f.analyzer, nil)
	return f
}

func (f *fixture) stored(t *testing.T, conv string) session.History {
	t.Helper()
	raw, err := f.mem.Get(session.Key("s3edit", conv))
	require.NoError(t, err)
	var h session.History
	require.NoError(t, json.Unmarshal([]byte(raw), &h))
	return h
}

func TestFirstTurnSkipsDisambiguation(t *testing.T) {
	f := newFixture()
	turn, err := f.rec.Begin(context.Background(), testLogger(), Call{
		ConversationID: "c1",
		DialogueCount:  0,
		Instruction:    "draw a cat",
	})
	require.NoError(t, err)
	assert.False(t, turn.Retry)
	assert.Empty(t, f.analyzer.calls)

	raw, err := f.mem.Get(session.Key("s3edit", "c1"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"dialogue_count":0,"instruction":"draw a cat","image_urls":[]}]`, raw)

	require.NoError(t, f.rec.Finish(testLogger(), turn, "![cat](https://cdn/cat.png)"))
	h := f.stored(t, "c1")
	require.Len(t, h, 1)
	require.NotNil(t, h[0].ResponseContent)
	assert.Equal(t, "![cat](https://cdn/cat.png)", *h[0].ResponseContent)
}

func TestRetryReusesStoredTurn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	turn, err := f.rec.Begin(ctx, testLogger(), Call{
		ConversationID: "c2",
		Instruction:    "https://cdn/ref.png make it blue",
	})
	require.NoError(t, err)
	require.NoError(t, f.rec.Finish(testLogger(), turn, "no image"))
	require.Len(t, f.resolver.calls, 1)

	retry, err := f.rec.Begin(ctx, testLogger(), Call{
		ConversationID: "c2",
		Instruction:    "something else entirely https://cdn/other.png",
	})
	require.NoError(t, err)
	assert.True(t, retry.Retry)
	assert.Equal(t, "https://cdn/ref.png make it blue", retry.Record.Instruction)
	assert.Equal(t, []string{"https://cdn/ref.png"}, retry.Record.ImageURLs)
	assert.Nil(t, retry.Record.ResponseContent)
	assert.Len(t, f.resolver.calls, 1, "retry must not resolve urls again")
	assert.Empty(t, f.analyzer.calls)

	require.NoError(t, f.rec.Finish(testLogger(), retry, "![r](https://cdn/r.png)"))
	h := f.stored(t, "c2")
	require.Len(t, h, 1)
	assert.Equal(t, "![r](https://cdn/r.png)", *h[0].ResponseContent)
}

func TestLaterTurnUsesDisambiguation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.rec.Begin(ctx, testLogger(), Call{ConversationID: "c3", Instruction: "draw a cat"})
	require.NoError(t, err)
	require.NoError(t, f.rec.Finish(testLogger(), first, "![cat](https://cdn/cat.png)"))

	f.analyzer.result = &analysis.Result{
		TargetURLs:         []string{"https://cdn/cat.png"},
		RevisedInstruction: "make the cat red",
	}
	turn, err := f.rec.Begin(ctx, testLogger(), Call{ConversationID: "c3", DialogueCount: 1, Instruction: "make it red"})
	require.NoError(t, err)
	require.Len(t, f.analyzer.calls, 1)
	assert.Len(t, f.analyzer.calls[0].History, 1)
	assert.Equal(t, "make the cat red", turn.Record.Instruction)
	assert.Equal(t, []string{"https://cdn/cat.png"}, turn.Record.ImageURLs)

	h := f.stored(t, "c3")
	require.Len(t, h, 2)
	assert.Nil(t, h[1].ResponseContent)
	assert.Equal(t, "make the cat red", h[1].Instruction)
}

func TestDisambiguationFailureWritesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.rec.Begin(ctx, testLogger(), Call{ConversationID: "c4", Instruction: "draw a cat"})
	require.NoError(t, err)
	require.NoError(t, f.rec.Finish(testLogger(), first, "![cat](https://cdn/cat.png)"))

	f.analyzer.err = &analysis.DisambiguationError{Reason: analysis.ReasonMissingFields, Err: errors.New("revised_instruction is required")}
	_, err = f.rec.Begin(ctx, testLogger(), Call{ConversationID: "c4", DialogueCount: 1, Instruction: "make it red"})
	require.Error(t, err)
	assert.True(t, IsDisambiguation(err))
	assert.Len(t, f.stored(t, "c4"), 1)
}

func TestRewindReplacesAbandonedBranch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for d, instr := range []string{"draw a cat", "make it red", "add a hat"} {
		f.analyzer.result = &analysis.Result{RevisedInstruction: instr}
		turn, err := f.rec.Begin(ctx, testLogger(), Call{ConversationID: "c5", DialogueCount: d, Instruction: instr})
		require.NoError(t, err)
		require.NoError(t, f.rec.Finish(testLogger(), turn, "done"))
	}
	require.Len(t, f.stored(t, "c5"), 3)

	f.analyzer.result = &analysis.Result{RevisedInstruction: "make it green"}
	turn, err := f.rec.Begin(ctx, testLogger(), Call{ConversationID: "c5", DialogueCount: 1, Instruction: "make it green"})
	require.NoError(t, err)
	assert.True(t, turn.Retry, "the stored turn 1 is the last retained record")
	assert.Equal(t, "make it red", turn.Record.Instruction)

	require.NoError(t, f.rec.Finish(testLogger(), turn, "again"))
	h := f.stored(t, "c5")
	require.Len(t, h, 2)
	for _, r := range h {
		assert.LessOrEqual(t, r.DialogueCount, 1)
	}
}

func TestCorruptHistoryStartsEmpty(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.mem.Set(session.Key("s3edit", "c6"), "{not json"))

	turn, err := f.rec.Begin(context.Background(), testLogger(), Call{ConversationID: "c6", Instruction: "draw a cat"})
	require.NoError(t, err)
	assert.False(t, turn.Retry)
	assert.Len(t, f.stored(t, "c6"), 1)
}
