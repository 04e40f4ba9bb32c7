package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateReturnsSyntheticSignal(t *testing.T) {
	completer := &fakeCompleter{content: "The supplier reported two late shipments in FY2023 and opened a corrective action plan."}
	g := NewSignalGenerator(completer, 200)

	signal := g.Generate(context.Background(), "Any delivery problems?")
	assert.False(t, signal.Fallback)
	assert.Equal(t, completer.content, signal.Text)
	assert.InDelta(t, 0.7, completer.lastReq.Temperature, 0.001)
	assert.Equal(t, 200, completer.lastReq.MaxTokens)
}

func TestGenerateFallsBackOnProviderError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("rate limited")}
	g := NewSignalGenerator(completer, 200)

	signal := g.Generate(context.Background(), "Any delivery problems?")
	assert.True(t, signal.Fallback)
	assert.Equal(t, "Any delivery problems?", signal.Text)
}

func TestGenerateFallsBackOnEmptyContent(t *testing.T) {
	completer := &fakeCompleter{content: ""}
	g := NewSignalGenerator(completer, 200)

	signal := g.Generate(context.Background(), "Any delivery problems?")
	assert.True(t, signal.Fallback)
	assert.Equal(t, "Any delivery problems?", signal.Text)
}

func TestParseLevelClosedSet(t *testing.T) {
	for input, want := range map[string]Level{
		"low":       LevelLow,
		"LOW":       LevelLow,
		" Moderate": LevelModerate,
		"High ":     LevelHigh,
	} {
		got, err := ParseLevel(input)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for _, input := range []string{"", "Severe", "medium", "low risk"} {
		_, err := ParseLevel(input)
		assert.Error(t, err, "input %q", input)
	}
}
