package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// renderer prints snapshot changes as a scrolling transcript.
type renderer struct {
	out        io.Writer
	printed    int
	lastNotice chat.Notice
	lastUpload string

	user   *color.Color
	bot    *color.Color
	status *color.Color
	levels map[chat.NoticeLevel]*color.Color
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:    out,
		user:   color.New(color.FgCyan, color.Bold),
		bot:    color.New(color.FgGreen),
		status: color.New(color.FgHiBlack),
		levels: map[chat.NoticeLevel]*color.Color{
			chat.NoticeInfo:    color.New(color.FgBlue),
			chat.NoticeWarning: color.New(color.FgYellow),
			chat.NoticeError:   color.New(color.FgRed, color.Bold),
		},
	}
}

func (r *renderer) render(snap chat.Snapshot) {
	if len(snap.Messages) < r.printed {
		r.status.Fprintln(r.out, "── new conversation ──")
		r.printed = 0
	}

	for _, msg := range snap.Messages[r.printed:] {
		r.message(msg)
	}
	r.printed = len(snap.Messages)

	if line := snap.UploadStatus(); line != r.lastUpload {
		r.status.Fprintln(r.out, line)
		r.lastUpload = line
	}

	if snap.Notice != nil && *snap.Notice != r.lastNotice {
		c, ok := r.levels[snap.Notice.Level]
		if !ok {
			c = r.levels[chat.NoticeInfo]
		}
		c.Fprintf(r.out, "[%s] %s\n", snap.Notice.Level, snap.Notice.Text)
	}
	if snap.Notice == nil {
		r.lastNotice = chat.Notice{}
	} else {
		r.lastNotice = *snap.Notice
	}
}

// forgetNotice makes the next render print the current notice even if it
// repeats the previous one.
func (r *renderer) forgetNotice() {
	r.lastNotice = chat.Notice{}
}

func (r *renderer) message(msg chat.Message) {
	switch msg.Role {
	case chat.RoleUser:
		r.user.Fprint(r.out, "you › ")
		fmt.Fprintln(r.out, msg.Text)
	default:
		r.bot.Fprint(r.out, "bot › ")
		fmt.Fprintln(r.out, indent(msg.Text))
	}
}

func (r *renderer) help() {
	r.status.Fprintln(r.out, "commands: /upload <path>  /reset  /status  /quit")
}

// indent aligns continuation lines of a multi-line reply under the prefix.
func indent(text string) string {
	return strings.ReplaceAll(text, "\n", "\n      ")
}
