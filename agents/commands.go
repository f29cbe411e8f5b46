package agents

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

type command struct {
	name string
	help string
	run  func(a *CLIAgent) (quit bool, err error)
}

var commands = []command{
	{name: "pause", help: "stop sending microphone audio", run: func(a *CLIAgent) (bool, error) {
		return false, a.setAudioInput(false)
	}},
	{name: "resume", help: "resume sending microphone audio", run: func(a *CLIAgent) (bool, error) {
		return false, a.setAudioInput(true)
	}},
	{name: "toggle", help: "toggle the microphone", run: func(a *CLIAgent) (bool, error) {
		return false, a.setAudioInput(!a.engine.AudioInputEnabled())
	}},
	{name: "clear", help: "clear the displayed transcript", run: func(a *CLIAgent) (bool, error) {
		a.view.Clear()
		a.println("🧹 Transcript cleared.", 0)
		return false, nil
	}},
	{name: "transcript", help: "print the conversation so far", run: func(a *CLIAgent) (bool, error) {
		return false, a.view.PrintTranscript()
	}},
	{name: "quit", help: "end the session", run: func(*CLIAgent) (bool, error) {
		return true, nil
	}},
}

// help lists the table above, so it is added at init time.
func init() {
	commands = append(commands, command{name: "help", help: "list commands", run: func(a *CLIAgent) (bool, error) {
		a.printHelp()
		return false, nil
	}})
}

func lookupCommand(name string) (command, bool) {
	if name == "exit" {
		name = "quit"
	}
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// Completer offers the command names to readline.
func Completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Execute runs one command line. quit reports that the user asked to end
// the session.
func (a *CLIAgent) Execute(line string) (quit bool, err error) {
	name := strings.ToLower(strings.TrimSpace(line))
	if name == "" {
		return false, nil
	}
	c, ok := lookupCommand(name)
	if !ok {
		a.println(fmt.Sprintf("❓ Unknown command %q. Type help for a list.", name), 0)
		return false, nil
	}
	return c.run(a)
}

func (a *CLIAgent) setAudioInput(enabled bool) error {
	if err := a.engine.SetAudioInputEnabled(enabled); err != nil {
		return err
	}
	if enabled {
		a.println("🎙  Microphone live.", 0)
	} else {
		a.println("🔇 Microphone paused.", 0)
	}
	return nil
}

func (a *CLIAgent) printHelp() {
	var b strings.Builder
	for i, c := range commands {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%-11s %s", c.name, c.help)
	}
	a.println(b.String(), 1)
}

// Interact reads commands from rl until quit, EOF or an interrupt on an
// empty line. The prompt follows the view.
func (a *CLIAgent) Interact(rl *readline.Instance) error {
	a.view.OnPromptChange(func(prompt string) {
		rl.SetPrompt(prompt)
		rl.Refresh()
	})
	defer a.view.OnPromptChange(nil)
	rl.SetPrompt(a.view.Prompt())

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		quit, err := a.Execute(line)
		if err != nil {
			a.logger.Error("executing command", err)
			a.println("❌ "+err.Error(), 0)
		}
		if quit {
			return nil
		}
	}
}
