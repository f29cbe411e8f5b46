package agents

import (
	"fmt"
	"strings"
	"sync"

	pkg "github.com/bt-bridge/voice-shop"
	"github.com/bt-bridge/voice-shop/shared"
	"github.com/bt-bridge/voice-shop/tools"
)

const volumeBarCells = 10

// TranscriptView renders engine notifications on a printer and keeps the
// conversation history. The interim line and the microphone level live in
// the prompt.
type TranscriptView struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer

	mu       sync.Mutex
	history  []string
	interim  string
	volume   float64
	prompt   string
	onPrompt func(prompt string)
}

var _ pkg.Notifier = (*TranscriptView)(nil)

func NewTranscriptView(logger shared.LoggerAdapter, printer *shared.Printer) (*TranscriptView, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, ErrNoPrinter
	}
	v := &TranscriptView{logger: logger, printer: printer}
	v.prompt = v.renderPrompt()
	return v, nil
}

// OnPromptChange registers fn to be called whenever the prompt changes.
func (v *TranscriptView) OnPromptChange(fn func(prompt string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onPrompt = fn
}

func (v *TranscriptView) Notify(n pkg.Notification) {
	switch n.Kind {
	case pkg.NotifyInterim:
		v.update(func() { v.interim = interimLine(n) })
		return
	case pkg.NotifyFinal, pkg.NotifyFunctionCall, pkg.NotifyError:
		v.mu.Lock()
		v.history = append(v.history, n.Line())
		v.mu.Unlock()
	}
	v.print(n)
}

func (v *TranscriptView) print(n pkg.Notification) {
	var line string
	switch n.Kind {
	case pkg.NotifyStatus:
		line = "ℹ️  " + n.Line()
	case pkg.NotifyReady:
		line = "✅ " + n.Line()
	case pkg.NotifyFinal:
		if n.Speaker == pkg.SpeakerUser {
			line = "🗣  " + n.Line()
		} else {
			line = "🤖 " + n.Line()
		}
	case pkg.NotifyFunctionCall:
		line = "🛠  " + n.Line()
	case pkg.NotifyError:
		line = "❌ " + n.Line()
	default:
		line = n.Line()
	}
	if err := v.printer.Writeln(line, 1); err != nil {
		v.logger.Error("printing notification", err)
	}
}

func interimLine(n pkg.Notification) string {
	if n.Text == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", n.Speaker, n.Text)
}

// SetVolume is the volume monitor's sample callback.
func (v *TranscriptView) SetVolume(pct float64) {
	v.update(func() { v.volume = pct })
}

func (v *TranscriptView) update(change func()) {
	v.mu.Lock()
	change()
	prompt := v.renderPrompt()
	if prompt == v.prompt {
		v.mu.Unlock()
		return
	}
	v.prompt = prompt
	fn := v.onPrompt
	v.mu.Unlock()
	if fn != nil {
		fn(prompt)
	}
}

func (v *TranscriptView) Prompt() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prompt
}

// renderPrompt must be called with v.mu held.
func (v *TranscriptView) renderPrompt() string {
	var b strings.Builder
	b.WriteString("🎤 ")
	b.WriteString(VolumeBar(v.volume))
	if v.interim != "" {
		b.WriteString(" ")
		b.WriteString(v.interim)
	}
	b.WriteString(" > ")
	return b.String()
}

// History returns a copy of the finalized transcript lines.
func (v *TranscriptView) History() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.history...)
}

// Clear drops the displayed history. The engine is not affected.
func (v *TranscriptView) Clear() {
	v.mu.Lock()
	v.history = nil
	v.mu.Unlock()
	v.update(func() { v.interim = "" })
}

// PrintTranscript writes the history, or a placeholder when it is empty.
func (v *TranscriptView) PrintTranscript() error {
	history := v.History()
	if len(history) == 0 {
		return v.printer.Writeln("📜 Transcript is empty.", 0)
	}
	if err := v.printer.Writeln(fmt.Sprintf("📜 Transcript (%d lines)", len(history)), 0); err != nil {
		return err
	}
	return v.printer.Writeln(strings.Join(history, "\n"), 1)
}

// VolumeBar draws pct as a fixed width level meter. Levels below
// tools.MinAudibleVolume draw empty.
func VolumeBar(pct float64) string {
	filled := 0
	if pct >= tools.MinAudibleVolume {
		filled = int(pct/100*volumeBarCells + 0.5)
	}
	filled = max(0, min(volumeBarCells, filled))
	return "[" + strings.Repeat("▮", filled) + strings.Repeat("▯", volumeBarCells-filled) + "]"
}
