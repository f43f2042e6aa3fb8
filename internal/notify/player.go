package notify

import (
	"log/slog"
	"os/exec"
	"strings"
)

// Player plays the audio clip attached to a notification.
type Player interface {
	Play(audioURL string)
}

// NopPlayer is the silent player, used when audio is disabled or no
// player command is configured.
type NopPlayer struct{}

func (NopPlayer) Play(string) {}

// ExecPlayer hands the clip URL to an external audio player. The
// player runs detached; one that fails to start is logged and the
// notification still displays.
type ExecPlayer struct {
	command string
	args    []string
}

// NewExecPlayer parses a player command line such as
// "ffplay -nodisp -autoexit"; the clip URL is appended as the final
// argument on each play. An empty command yields a NopPlayer.
func NewExecPlayer(commandLine string) Player {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return NopPlayer{}
	}
	return &ExecPlayer{command: fields[0], args: fields[1:]}
}

func (p *ExecPlayer) Play(audioURL string) {
	args := append(append([]string{}, p.args...), audioURL)
	cmd := exec.Command(p.command, args...)
	if err := cmd.Start(); err != nil {
		slog.Warn("audio player failed to start", "command", p.command, "error", err)
		return
	}
	go func() { _ = cmd.Wait() }()
}
