package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/haasonsaas/coday/pkg/models"
)

// renderEvents writes a terminal view of the session's event stream:
// streaming text inline, one line per tool call, warnings and errors on
// their own lines. Thinking and heartbeat events stay silent.
func renderEvents(w io.Writer, ch <-chan *models.Event, history []*models.Event) {
	var streaming bool
	endStream := func() {
		if streaming {
			fmt.Fprintln(w)
			streaming = false
		}
	}

	render := func(ev *models.Event) {
		switch ev.Kind {
		case models.EventText:
			if !streaming {
				fmt.Fprintf(w, "%s> ", ev.SpeakerName)
				streaming = true
			}
			fmt.Fprint(w, ev.Text)
		case models.EventMessage:
			// Streamed assistant text already appeared; just close the line.
			if ev.Role == models.RoleAssistant && streaming {
				endStream()
				return
			}
			endStream()
			fmt.Fprintf(w, "%s> %s\n", ev.SpeakerName, ev.PlainText())
		case models.EventToolRequest:
			endStream()
			args := string(ev.Args)
			if len(args) > 120 {
				args = args[:120] + "…"
			}
			fmt.Fprintf(w, "  [%s %s]\n", ev.ToolName, args)
		case models.EventInvite:
			endStream()
			fmt.Fprintf(w, "? %s", ev.Invite)
			if ev.DefaultValue != "" {
				fmt.Fprintf(w, " [%s]", ev.DefaultValue)
			}
			fmt.Fprintln(w)
		case models.EventChoice:
			endStream()
			fmt.Fprintf(w, "? %s (%s)\n", ev.Invite, strings.Join(ev.Options, " / "))
		case models.EventWarn:
			endStream()
			fmt.Fprintf(w, "warn: %s\n", ev.Message)
		case models.EventError:
			endStream()
			fmt.Fprintf(w, "error: %s\n", ev.Message)
		case models.EventFile:
			endStream()
			fmt.Fprintf(w, "  [file %s %s]\n", ev.Operation, ev.Filename)
		case models.EventProjectSelected:
			endStream()
			fmt.Fprintf(w, "project: %s\n", ev.ProjectName)
		case models.EventThreadSelected:
			endStream()
			name := ev.ThreadName
			if name == "" {
				name = ev.ThreadID
			}
			fmt.Fprintf(w, "thread: %s\n", name)
		}
	}

	for _, ev := range history {
		render(ev)
	}
	for ev := range ch {
		render(ev)
	}
	endStream()
}
