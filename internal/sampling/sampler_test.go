package sampling

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/logutil"
	"github.com/born-ml/charprefix/internal/tokenizer"
)

func newVocab(t *testing.T, entries map[int]string) *tokenizer.Vocab {
	t.Helper()
	v, err := tokenizer.NewVocab(entries)
	require.NoError(t, err)
	return v
}

// scenarioVocab is {a:1, b:2, ab:4, abc:6}.
func scenarioVocab(t *testing.T) *tokenizer.Vocab {
	return newVocab(t, map[int]string{1: "a", 2: "b", 4: "ab", 6: "abc"})
}

func fixed(dist estimate.Distribution) estimate.Estimator {
	return estimate.EstimatorFunc(func(context.Context, []int, estimate.Params) estimate.Distribution {
		return slices.Clone(dist)
	})
}

func greedy(prefix string, maxTokens int) Request {
	return Request{Prefix: prefix, MaxTokens: maxTokens, Temperature: 0, Seed: 1}
}

func newSampler(tok tokenizer.Tokenizer, est estimate.Estimator) *PrefixSampler {
	return NewPrefixSampler(tok, est, WithLogger(logutil.Discard()))
}

func TestSample_PrefixCoveredInOneToken(t *testing.T) {
	// "b" is the most likely token overall but cannot start "ab".
	est := fixed(estimate.Distribution{{ID: 2, Prob: 0.9}, {ID: 4, Prob: 0.5}, {ID: 6, Prob: 0.3}, {ID: 1, Prob: 0.2}})
	s := newSampler(scenarioVocab(t), est)

	assert.Equal(t, []int{1, 4, 6}, s.Trie().WithPrefix("ab").Union(s.Trie().PrefixesOf("ab")).IDs())

	res, err := s.Sample(context.Background(), greedy("ab", 1))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []int{4}, res.Tokens)
	assert.Equal(t, "ab", res.Text)
	assert.NotEmpty(t, res.RunID)
}

func TestSample_PrefixUnsatisfiable(t *testing.T) {
	calls := 0
	est := estimate.EstimatorFunc(func(context.Context, []int, estimate.Params) estimate.Distribution {
		calls++
		return estimate.Distribution{{ID: 1, Prob: 1}}
	})
	s := newSampler(scenarioVocab(t), est)

	res, err := s.Sample(context.Background(), greedy("xyz", 5))
	require.NoError(t, err)

	assert.Equal(t, StatusPrefixUnsatisfiable, res.Status)
	assert.Empty(t, res.Tokens)
	assert.Equal(t, 0, calls)
}

func TestSample_EstimateMissesCandidates(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 2, Prob: 1}}))

	res, err := s.Sample(context.Background(), greedy("ab", 3))
	require.NoError(t, err)

	assert.Equal(t, StatusPrefixUnsatisfiable, res.Status)
	assert.Empty(t, res.Tokens)
}

func TestSample_FailingBackendFallsBackToEmergency(t *testing.T) {
	tok := newVocab(t, map[int]string{0: "d", 1: "e", 2: "f", 3: " ", 4: "(", 5: ")", 6: "_", 7: "\n", 8: "de", 9: "def"})
	failing := &failingTier{}
	est := estimate.NewTiered(tok, []estimate.Tier{failing}, estimate.WithLogger(logutil.Discard()))
	s := newSampler(tok, est)

	for seed := int64(0); seed < 10; seed++ {
		req := Request{Prefix: "def", MaxTokens: 6, Temperature: 1, TopK: 4, TopP: 0.9, Seed: seed}

		res, err := s.Sample(context.Background(), req)
		require.NoError(t, err)

		assert.Contains(t, []Status{StatusCompleted, StatusMaxTokensReached}, res.Status)
		assert.NotEmpty(t, res.Tokens)
		assert.LessOrEqual(t, len(res.Tokens), 6)
		assert.True(t, strings.HasPrefix(res.Text, "def"), "text %q", res.Text)
	}
	assert.Positive(t, failing.calls)
}

type failingTier struct {
	mu    sync.Mutex
	calls int
}

func (f *failingTier) Name() string { return "direct" }

func (f *failingTier) Estimate(context.Context, []int, estimate.Params) (estimate.Distribution, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("backend unavailable")
}

func TestSample_StopSequence(t *testing.T) {
	tok := newVocab(t, map[int]string{0: "x", 1: "\n", 2: "y"})
	s := newSampler(tok, fixed(estimate.Distribution{{ID: 1, Prob: 0.8}, {ID: 0, Prob: 0.1}, {ID: 2, Prob: 0.1}}))

	req := greedy("x", 10)
	req.StopSequences = []string{"\n\n"}

	res, err := s.Sample(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusStoppedOnSequence, res.Status)
	assert.Equal(t, []int{0, 1, 1}, res.Tokens)
	assert.Equal(t, "x\n\n", res.Text)
}

func TestSample_StopSequenceInsidePrefixIgnored(t *testing.T) {
	tok := newVocab(t, map[int]string{0: "x", 1: "\n", 2: "y"})
	s := newSampler(tok, fixed(estimate.Distribution{{ID: 2, Prob: 0.5}, {ID: 0, Prob: 0.3}, {ID: 1, Prob: 0.2}}))

	req := greedy("x\n\nx", 6)
	req.StopSequences = []string{"\n\n"}

	res, err := s.Sample(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusMaxTokensReached, res.Status)
	assert.Equal(t, "x\n\nxyy", res.Text)
}

func TestSample_MultiTokenPrefix(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 1, Prob: 0.6}, {ID: 2, Prob: 0.4}}))

	res, err := s.Sample(context.Background(), greedy("abab", 4))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []int{1, 2, 1, 2}, res.Tokens)
	assert.Equal(t, "abab", res.Text)
}

func TestSample_MaxTokensStatus(t *testing.T) {
	est := fixed(estimate.Distribution{{ID: 1, Prob: 0.1}, {ID: 2, Prob: 0.9}})

	tests := []struct {
		name       string
		prefix     string
		maxTokens  int
		wantStatus Status
		wantText   string
	}{
		{"budget after prefix", "a", 3, StatusMaxTokensReached, "abb"},
		{"prefix finishes on last token", "ab", 2, StatusCompleted, "ab"},
		{"prefix still pending", "abab", 2, StatusPrefixUnsatisfiable, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSampler(scenarioVocab(t), est)

			res, err := s.Sample(context.Background(), greedy(tt.prefix, tt.maxTokens))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantText, res.Text)
			assert.Len(t, res.Tokens, tt.maxTokens)
		})
	}
}

func TestSample_EndOfText(t *testing.T) {
	tok := newVocab(t, map[int]string{0: "a", 1: "b", 2: "<eos>"})
	tok.SetEosToken(2)

	calls := 0
	est := estimate.EstimatorFunc(func(context.Context, []int, estimate.Params) estimate.Distribution {
		calls++
		if calls < 3 {
			return estimate.Distribution{{ID: 1, Prob: 0.6}, {ID: 0, Prob: 0.4}}
		}
		return estimate.Distribution{{ID: 2, Prob: 1}}
	})
	s := newSampler(tok, est)

	res, err := s.Sample(context.Background(), greedy("a", 10))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []int{0, 1}, res.Tokens)
	assert.Equal(t, 3, res.Steps)
}

func TestSample_EmptyEstimateAfterPrefixCompletes(t *testing.T) {
	calls := 0
	est := estimate.EstimatorFunc(func(context.Context, []int, estimate.Params) estimate.Distribution {
		calls++
		if calls == 1 {
			return estimate.Distribution{{ID: 4, Prob: 1}}
		}
		return nil
	})
	s := newSampler(scenarioVocab(t), est)

	res, err := s.Sample(context.Background(), greedy("ab", 10))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []int{4}, res.Tokens)
}

func TestSample_Cancelled(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 1, Prob: 1}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Sample(ctx, greedy("a", 5))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Empty(t, res.Tokens)
}

func TestSample_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	est := estimate.EstimatorFunc(func(context.Context, []int, estimate.Params) estimate.Distribution {
		calls++
		if calls == 3 {
			cancel()
		}
		return estimate.Distribution{{ID: 2, Prob: 0.5}, {ID: 1, Prob: 0.5}}
	})
	s := newSampler(scenarioVocab(t), est)

	res, err := s.Sample(ctx, greedy("a", 50))
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, []int{1, 2}, res.Tokens)
}

func TestSample_EstimatorPanic(t *testing.T) {
	est := estimate.EstimatorFunc(func(context.Context, []int, estimate.Params) estimate.Distribution {
		panic("estimator bug")
	})
	s := newSampler(scenarioVocab(t), est)

	res, err := s.Sample(context.Background(), greedy("a", 3))
	require.NoError(t, err)
	assert.Equal(t, StatusPrefixUnsatisfiable, res.Status)
}

func TestSample_ParamsForwarded(t *testing.T) {
	var got estimate.Params
	est := estimate.EstimatorFunc(func(_ context.Context, _ []int, params estimate.Params) estimate.Distribution {
		got = params
		return estimate.Distribution{{ID: 4, Prob: 1}}
	})
	s := newSampler(scenarioVocab(t), est)

	caller := estimate.Params{estimate.ParamPromptPrefix: "python"}
	req := greedy("ab", 1)
	req.Params = caller

	res, err := s.Sample(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "ab", got.String(estimate.ParamPrefix))
	assert.Equal(t, "python", got.String(estimate.ParamPromptPrefix))
	assert.Equal(t, res.RunID, got.String(estimate.ParamRunID))
	assert.NotContains(t, caller, estimate.ParamPrefix)
}

func TestSample_SeededRunsRepeat(t *testing.T) {
	tok := newVocab(t, map[int]string{0: "a", 1: "b", 2: "c", 3: "d"})
	est := fixed(estimate.Distribution{{ID: 0, Prob: 0.25}, {ID: 1, Prob: 0.25}, {ID: 2, Prob: 0.3}, {ID: 3, Prob: 0.2}})
	s := newSampler(tok, est)

	tests := []struct {
		name string
		temp float64
	}{
		{"near zero", 1e-6},
		{"unit", 1},
		{"hot", 1.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Prefix: "a", MaxTokens: 20, Temperature: tt.temp, Seed: 99}

			first, err := s.Sample(context.Background(), req)
			require.NoError(t, err)
			second, err := s.Sample(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, first.Tokens, second.Tokens)
			assert.True(t, strings.HasPrefix(first.Text, "a"))
		})
	}
}

func TestSample_NearZeroTemperatureIsArgmax(t *testing.T) {
	tok := newVocab(t, map[int]string{0: "a", 1: "b", 2: "c"})
	s := newSampler(tok, fixed(estimate.Distribution{{ID: 0, Prob: 0.3}, {ID: 1, Prob: 0.2}, {ID: 2, Prob: 0.5}}))

	for seed := int64(0); seed < 5; seed++ {
		res, err := s.Sample(context.Background(), Request{Prefix: "b", MaxTokens: 4, Temperature: 1e-6, Seed: seed})
		require.NoError(t, err)
		assert.Equal(t, "bccc", res.Text)
	}
}

func TestSample_InvalidRequest(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(nil))

	tests := []struct {
		name string
		req  Request
	}{
		{"zero max tokens", Request{Prefix: "a", MaxTokens: 0, Temperature: 1}},
		{"negative temperature", Request{Prefix: "a", MaxTokens: 1, Temperature: -0.1}},
		{"top p above one", Request{Prefix: "a", MaxTokens: 1, Temperature: 1, TopP: 1.5}},
		{"negative top k", Request{Prefix: "a", MaxTokens: 1, Temperature: 1, TopK: -1}},
		{"empty stop sequence", Request{Prefix: "a", MaxTokens: 1, Temperature: 1, StopSequences: []string{""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Sample(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, res)
		})
	}
}

func TestSample_EmptyPrefix(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 6, Prob: 1}}))

	res, err := s.Sample(context.Background(), greedy("", 2))
	require.NoError(t, err)

	assert.Equal(t, StatusMaxTokensReached, res.Status)
	assert.Equal(t, "abcabc", res.Text)
}

func TestSampleText(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 6, Prob: 1}}))

	text, res, err := s.SampleText(context.Background(), greedy("ab", 1))
	require.NoError(t, err)
	assert.Equal(t, "abc", text)
	assert.Equal(t, StatusCompleted, res.Status)

	text, res, err = s.SampleText(context.Background(), greedy("zz", 1))
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Equal(t, StatusPrefixUnsatisfiable, res.Status)
}

func TestSampleStream(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 1, Prob: 0.6}, {ID: 2, Prob: 0.4}}))

	ch, err := s.SampleStream(context.Background(), greedy("ab", 3))
	require.NoError(t, err)

	var steps []Step
	for step := range ch {
		steps = append(steps, step)
	}

	require.Len(t, steps, 4)
	assert.Equal(t, Step{TokenID: 1, Token: "a", Remaining: "b"}, steps[0])
	assert.Equal(t, Step{TokenID: 2, Token: "b", Remaining: ""}, steps[1])
	assert.Equal(t, Step{TokenID: 1, Token: "a", Remaining: ""}, steps[2])
	assert.True(t, steps[3].Done)
	assert.Equal(t, StatusMaxTokensReached, steps[3].Status)

	_, err = s.SampleStream(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSampleStream_AbandonedAfterCancel(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 1, Prob: 0.5}, {ID: 2, Prob: 0.5}}))
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := s.SampleStream(ctx, Request{Prefix: "", MaxTokens: 10000, Temperature: 1, Seed: int64(i)})
		require.NoError(t, err)

		<-ch
		cancel()
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSample_ConcurrentCalls(t *testing.T) {
	s := newSampler(scenarioVocab(t), fixed(estimate.Distribution{{ID: 1, Prob: 0.4}, {ID: 2, Prob: 0.1}, {ID: 4, Prob: 0.3}, {ID: 6, Prob: 0.2}}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			res, err := s.Sample(context.Background(), Request{Prefix: "ab", MaxTokens: 5, Temperature: 1, Seed: seed})
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, res.Status.Success())
			assert.True(t, strings.HasPrefix(res.Text, "ab"))
		}(int64(i))
	}
	wg.Wait()
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		text      string
		want      string
		wantOK    bool
	}{
		{"covers exactly", "ab", "ab", "", true},
		{"overshoots", "ab", "abc", "", true},
		{"partial", "abc", "a", "bc", true},
		{"partial multi", "abc", "ab", "c", true},
		{"already satisfied", "", "zz", "", true},
		{"unrelated", "abc", "b", "abc", false},
		{"empty token while pending", "abc", "", "abc", false},
		{"unicode", "héllo", "hé", "llo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := advance(tt.remaining, tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStopIndex(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		prefixLen int
		stops     []string
		want      int
	}{
		{"after prefix", "def f():\n\n", 3, []string{"\n\n"}, 0},
		{"inside prefix", "a\n\nb", 4, []string{"\n\n"}, -1},
		{"straddles prefix end", "a\n\n", 2, []string{"\n\n"}, 0},
		{"second sequence", "x = 1;", 1, []string{"\n", ";"}, 1},
		{"absent", "abc", 0, []string{"z"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stopIndex(tt.text, tt.prefixLen, tt.stops))
		})
	}
}

func TestStatusSuccess(t *testing.T) {
	assert.True(t, StatusCompleted.Success())
	assert.True(t, StatusStoppedOnSequence.Success())
	assert.True(t, StatusMaxTokensReached.Success())
	assert.False(t, StatusPrefixUnsatisfiable.Success())
	assert.False(t, StatusCancelled.Success())
}

func TestDefaultRequest(t *testing.T) {
	req := DefaultRequest()
	req.Prefix = "x"

	require.NoError(t, req.Validate())
	assert.Equal(t, 500, req.MaxTokens)
	assert.Equal(t, int64(-1), req.Seed)
}
