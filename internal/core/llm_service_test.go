package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"lte.dev/doc-chatbot/internal/config"
)

func TestNewGeminiOracle_RejectsInvalidKey(t *testing.T) {
	_, err := NewGeminiOracle(context.Background(), &config.Config{GeminiAPIKey: "short"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSplitTurns(t *testing.T) {
	history, last, err := splitTurns([]Turn{
		{Role: RoleUser, Content: "What is LTE?"},
		{Role: RoleAssistant, Content: "Long-Term Evolution."},
		{Role: RoleUser, Content: "And its frame length?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "And its frame length?", last.Content)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("Long-Term Evolution.")}, history[1].Parts)
}

func TestSplitTurns_Errors(t *testing.T) {
	_, _, err := splitTurns(nil)
	assert.Error(t, err)

	_, _, err = splitTurns([]Turn{{Role: RoleAssistant, Content: "hi"}})
	assert.Error(t, err)
}

func TestSplitTurns_MergesNonAlternatingTurns(t *testing.T) {
	history, last, err := splitTurns([]Turn{
		{Role: RoleUser, Content: "Hi."},
		{Role: RoleUser, Content: "What is LTE?"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleAssistant, Content: "Long-Term Evolution."},
		{Role: RoleAssistant, Content: "A 4G standard."},
		{Role: RoleUser, Content: "Thanks."},
		{Role: RoleUser, Content: "What is its frame length?"},
	})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, []genai.Part{genai.Text("Hi.\n\nWhat is LTE?")}, history[0].Parts)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("Long-Term Evolution.\n\nA 4G standard.")}, history[1].Parts)
	assert.Equal(t, Turn{Role: RoleUser, Content: "Thanks.\n\nWhat is its frame length?"}, last)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("The radius "), genai.Text("is 5 km.")}},
		}},
	}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "The radius is 5 km.", text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.Error(t, err)
	_, err = responseText(nil)
	assert.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, newLimiter(0).Limit())
	assert.Equal(t, rate.Inf, newLimiter(-5).Limit())

	l := newLimiter(1500)
	assert.InDelta(t, 25.0, float64(l.Limit()), 1e-9)
	assert.Equal(t, 1, l.Burst())
}

func TestGeminiOracle_WaitHonoursContext(t *testing.T) {
	o := &GeminiOracle{limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	require.NoError(t, o.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, o.wait(ctx))
}
