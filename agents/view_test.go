package agents

import (
	"bytes"
	"testing"

	pkg "github.com/bt-bridge/voice-shop"
	"github.com/bt-bridge/voice-shop/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestView(t *testing.T) (*TranscriptView, *bytes.Buffer) {
	t.Helper()
	out := new(bytes.Buffer)
	printer, err := shared.NewPrinter("│  ", shared.NewWriteCloser(out))
	require.NoError(t, err)
	v, err := NewTranscriptView(shared.NewNopLogger(), printer)
	require.NoError(t, err)
	return v, out
}

func TestVolumeBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, "[▯▯▯▯▯▯▯▯▯▯]"},
		{4.9, "[▯▯▯▯▯▯▯▯▯▯]"},
		{5, "[▮▯▯▯▯▯▯▯▯▯]"},
		{42, "[▮▮▮▮▯▯▯▯▯▯]"},
		{100, "[▮▮▮▮▮▮▮▮▮▮]"},
		{250, "[▮▮▮▮▮▮▮▮▮▮]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VolumeBar(tt.pct), tt.pct)
	}
}

func TestViewHistory(t *testing.T) {
	v, out := newTestView(t)

	v.Notify(pkg.Notification{Kind: pkg.NotifyStatus, Text: "Connection connected"})
	v.Notify(pkg.Notification{Kind: pkg.NotifyFinal, Speaker: pkg.SpeakerUser, Text: "sneakers"})
	v.Notify(pkg.Notification{Kind: pkg.NotifyFunctionCall, Call: &pkg.FunctionCallSummary{
		Name:    "filter_products",
		Args:    map[string]any{"category": "shoes"},
		Summary: "Found 2 product(s) matching your criteria",
	}})
	v.Notify(pkg.Notification{Kind: pkg.NotifyError, Text: "boom"})

	assert.Equal(t, []string{
		"User: sneakers",
		"Function call: filter_products(category=shoes) -> Found 2 product(s) matching your criteria",
		"Error: boom",
	}, v.History())
	assert.Contains(t, out.String(), "│  ℹ️  Connection connected")
	assert.Contains(t, out.String(), "│  🗣  User: sneakers")

	history := v.History()
	history[0] = "changed"
	assert.Equal(t, "User: sneakers", v.History()[0])
}

func TestViewPrompt(t *testing.T) {
	v, out := newTestView(t)
	var prompts []string
	v.OnPromptChange(func(p string) { prompts = append(prompts, p) })

	v.Notify(pkg.Notification{Kind: pkg.NotifyInterim, Speaker: pkg.SpeakerAssistant, Text: "Hello"})
	v.Notify(pkg.Notification{Kind: pkg.NotifyInterim, Speaker: pkg.SpeakerAssistant, Text: "Hello"})
	v.SetVolume(100)
	v.Notify(pkg.Notification{Kind: pkg.NotifyInterim, Speaker: pkg.SpeakerAssistant})

	require.Len(t, prompts, 3)
	assert.Equal(t, "🎤 [▯▯▯▯▯▯▯▯▯▯] Assistant: Hello > ", prompts[0])
	assert.Equal(t, "🎤 [▮▮▮▮▮▮▮▮▮▮] Assistant: Hello > ", prompts[1])
	assert.Equal(t, "🎤 [▮▮▮▮▮▮▮▮▮▮] > ", prompts[2])
	assert.Equal(t, prompts[2], v.Prompt())
	assert.Empty(t, v.History())
	assert.Empty(t, out.String())
}
