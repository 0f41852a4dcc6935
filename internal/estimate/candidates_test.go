package estimate

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/charprefix/internal/tokenizer"
)

func codeVocab(t *testing.T) *tokenizer.Vocab {
	t.Helper()
	v, err := tokenizer.NewVocab(map[int]string{
		0: "a",
		1: "b",
		2: " ",
		3: "(",
		4: "ab",
		5: "def",
	})
	require.NoError(t, err)
	return v
}

type fakeCandidates struct {
	calls    atomic.Int32
	text     func(n int32) (string, error)
	mu       sync.Mutex
	settings []CandidateSettings
	prompts  []Prompt
}

func (f *fakeCandidates) Complete(_ context.Context, prompt Prompt, settings CandidateSettings) (string, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.settings = append(f.settings, settings)
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.text(n)
}

func TestCandidateCount(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   int
	}{
		{"empty", "", 10},
		{"short word", "abc", 12},
		{"long word capped", "abcdefghijklmnop", 15},
		{"code", "def f(x):", 19},
		{"unicode letters", "héllo", 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateCount(tt.prefix))
		})
	}
}

func TestCandidates_Fold(t *testing.T) {
	c := NewCandidates(nil, codeVocab(t))

	dist := c.fold([]string{"a", "b", "a", "", "zz"})
	require.Len(t, dist, 2)

	wa := 1 + math.Exp(-1)
	wb := math.Exp(-0.5)
	total := wa + wb

	assert.Equal(t, 0, dist[0].ID)
	assert.InDelta(t, wa/total, dist[0].Prob, 1e-12)
	assert.Equal(t, 1, dist[1].ID)
	assert.InDelta(t, wb/total, dist[1].Prob, 1e-12)
}

func TestCandidates_FirstKnownID(t *testing.T) {
	c := NewCandidates(nil, codeVocab(t))

	tests := []struct {
		text   string
		wantID int
		wantOK bool
	}{
		{"abc", 0, true},
		{"define", 5, true},
		{"zzz", 0, false},
		{"(x", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			id, ok := c.firstKnownID(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantID, id)
			}
		})
	}
}

func TestCandidates_Estimate(t *testing.T) {
	src := &fakeCandidates{text: func(int32) (string, error) { return "ab", nil }}
	c := NewCandidates(src, codeVocab(t), WithConcurrency(4))

	dist, err := c.Estimate(context.Background(), []int{5}, Params{ParamPrefix: "abc", ParamPromptPrefix: "complete the code"})
	require.NoError(t, err)

	require.Len(t, dist, 1)
	assert.Equal(t, 4, dist[0].ID)
	assert.InDelta(t, 1.0, dist[0].Prob, 1e-9)
	assert.Equal(t, int32(CandidateCount("abc")), src.calls.Load())

	for _, p := range src.prompts {
		assert.Equal(t, Prompt{Instruction: "complete the code", Text: "def"}, p)
	}
}

func TestCandidates_CountOverride(t *testing.T) {
	tests := []struct {
		name     string
		override any
		want     int32
	}{
		{"int", 25, 25},
		{"float from json", 12.0, 12},
		{"below floor", 3, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeCandidates{text: func(int32) (string, error) { return "a", nil }}
			c := NewCandidates(src, codeVocab(t))

			_, err := c.Estimate(context.Background(), nil, Params{ParamCandidatesPerStep: tt.override})
			require.NoError(t, err)
			assert.Equal(t, tt.want, src.calls.Load())
		})
	}
}

func TestCandidates_SettingsOverride(t *testing.T) {
	src := &fakeCandidates{text: func(int32) (string, error) { return "a", nil }}
	c := NewCandidates(src, codeVocab(t))

	_, err := c.Estimate(context.Background(), nil, Params{
		ParamCandidateSettings: map[string]any{"temperature": 1.2, "top_k": 5},
	})
	require.NoError(t, err)

	want := DefaultCandidateSettings()
	want.Temperature = 1.2
	want.TopK = 5
	for _, s := range src.settings {
		assert.Equal(t, want, s)
	}
}

func TestCandidates_PartialFailures(t *testing.T) {
	src := &fakeCandidates{text: func(n int32) (string, error) {
		if n%2 == 0 {
			return "", errors.New("rate limited")
		}
		return "b", nil
	}}
	c := NewCandidates(src, codeVocab(t))

	dist, err := c.Estimate(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, dist, 1)
	assert.Equal(t, 1, dist[0].ID)
}

func TestCandidates_AllFail(t *testing.T) {
	src := &fakeCandidates{text: func(int32) (string, error) { return "", errors.New("unavailable") }}
	c := NewCandidates(src, codeVocab(t))

	_, err := c.Estimate(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoUsableCandidate)
}

func TestCandidates_PanicIsolated(t *testing.T) {
	src := &fakeCandidates{text: func(n int32) (string, error) {
		if n == 1 {
			panic("boom")
		}
		return "a", nil
	}}
	c := NewCandidates(src, codeVocab(t))

	dist, err := c.Estimate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, dist[0].ID)
}
