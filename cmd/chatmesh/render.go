package main

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/hupe1980/chatmesh"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/engine"
)

var authorColors = []color.Attribute{
	color.FgCyan,
	color.FgMagenta,
	color.FgBlue,
	color.FgGreen,
	color.FgHiCyan,
	color.FgHiMagenta,
}

// renderer prints orchestration updates as they stream in. It implements
// core.Observer and is called from the orchestration goroutine while the
// REPL prints from the main one, so all writes go through mu.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	userName string
	// open is the id of the message whose line is still being streamed.
	open string

	dim    *color.Color
	yellow *color.Color
	red    *color.Color
	green  *color.Color
}

var _ core.Observer = (*renderer)(nil)

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:    out,
		dim:    color.New(color.Faint),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
		green:  color.New(color.FgGreen, color.Bold),
	}
}

func (r *renderer) setUserName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userName = name
}

// Notify implements core.Observer.
func (r *renderer) Notify(u core.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case core.UpdateMessageCreated:
		if u.Author == r.userName {
			return
		}
		r.closeLine()
		r.author(u.Author)
		if u.Delta == "" {
			// Diagnostics arrive whole and are never completed.
			fmt.Fprintln(r.out, u.Text)
			return
		}
		fmt.Fprint(r.out, u.Delta)
		r.open = u.MessageID
	case core.UpdateMessageDelta:
		if u.Author == "" {
			r.red.Fprint(r.out, u.Delta)
			return
		}
		fmt.Fprint(r.out, u.Delta)
	case core.UpdateMessageCompleted:
		if r.open == u.MessageID {
			r.closeLine()
		}
	case core.UpdateStateChanged:
		if u.State == string(engine.StateSelecting) {
			r.closeLine()
			r.dim.Fprintln(r.out, "… choosing the next speaker")
		}
	case core.UpdateTopicRenamed:
		r.closeLine()
		r.dim.Fprintf(r.out, "topic named %q\n", u.Delta)
	}
}

func (r *renderer) closeLine() {
	if r.open != "" {
		fmt.Fprintln(r.out)
		r.open = ""
	}
}

func (r *renderer) author(name string) {
	switch name {
	case core.ErrorAuthor:
		r.red.Fprintf(r.out, "%s: ", name)
	case core.SystemAuthor:
		r.yellow.Fprintf(r.out, "%s: ", name)
	default:
		color.New(authorColor(name), color.Bold).Fprintf(r.out, "%s: ", name)
	}
}

// authorColor picks a stable color per author name.
func authorColor(name string) color.Attribute {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))

	return authorColors[h.Sum32()%uint32(len(authorColors))]
}

func (r *renderer) banner(m *chatmesh.Mesh) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.green.Fprintln(r.out, "chatmesh")
	store := m.Store()
	if id := store.CurrentTopicID(); id != "" {
		if t, err := store.Topic(id); err == nil {
			r.dim.Fprintf(r.out, "topic %s\n", topicLabel(t))
		}
	} else {
		r.dim.Fprintln(r.out, "no topic selected: use /groups and /new <group>")
	}
	r.dim.Fprintln(r.out, "type /help for commands")
}

func (r *renderer) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLine()
	r.green.Fprintf(r.out, "%s> ", r.userName)
}

// outcome reports how a send ended.
func (r *renderer) outcome(out engine.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLine()
	switch {
	case errors.Is(err, chatmesh.ErrNoTopicSelected):
		r.yellow.Fprintln(r.out, "no topic selected: use /new <group> or /select <topic>")
	case errors.Is(err, engine.ErrSessionActive):
		r.yellow.Fprintln(r.out, "an orchestration is already running")
	case out.State == engine.StateCancelled:
		r.yellow.Fprintln(r.out, "cancelled")
	case err != nil && out.Dispatched == 0 && out.State != engine.StateFailed:
		r.red.Fprintf(r.out, "Error: %v\n", err)
	case out.State == engine.StateFailed:
		r.dim.Fprintf(r.out, "orchestration failed after %d turn(s)\n", out.Dispatched)
	}
}

func (r *renderer) message(m core.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.author(m.AuthorName)
	fmt.Fprintln(r.out, m.Text)
}

func (r *renderer) item(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dim.Fprintf(r.out, "  %-12s ", shortID(id))
	fmt.Fprintln(r.out, text)
}

func (r *renderer) notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.yellow.Fprintln(r.out, text)
}

func (r *renderer) plain(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.out, text)
}

func (r *renderer) failure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.red.Fprintf(r.out, "Error: %v\n", err)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
