package main

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

func formatMessage(msg chat.Message) string {
	switch {
	case msg.IsUser():
		return "you  > " + msg.Content
	case msg.Failed():
		return "news ! " + msg.Content
	default:
		return "news > " + msg.Content
	}
}

func formatArticles(articles []chat.Article) string {
	if len(articles) == 0 {
		return "(no articles)\n"
	}

	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. %s", i+1, a.Title)
		if a.PublishedDate != "" {
			fmt.Fprintf(&b, " (%s)", a.PublishedDate)
		}
		b.WriteString("\n")
		if a.URL != "" {
			fmt.Fprintf(&b, "   %s\n", a.URL)
		}
		if a.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", a.Snippet)
		}
	}
	return b.String()
}

// renderer turns successive snapshots into terminal output, printing each
// message once. Snapshots may skip intermediate states.
type renderer struct {
	sessionID string
	printed   int
	lastID    uint64
	waiting   bool
}

func (r *renderer) Render(snap chat.Snapshot) string {
	var b strings.Builder

	switch {
	case snap.SessionID != r.sessionID:
		r.reset(snap.SessionID)
		if snap.SessionID != "" {
			fmt.Fprintf(&b, "-- session %s --\n", snap.SessionID)
		}
	case !r.continues(snap):
		r.reset(snap.SessionID)
		b.WriteString("-- transcript cleared --\n")
	}

	for _, msg := range snap.Log[r.printed:] {
		b.WriteString(formatMessage(msg))
		b.WriteString("\n")
		r.lastID = msg.ID
	}
	r.printed = len(snap.Log)

	last, ok := snap.Last()
	pending := snap.Busy && ok && last.IsUser()
	if pending && !r.waiting {
		b.WriteString("news ... thinking\n")
	}
	r.waiting = pending

	return b.String()
}

// continues reports whether snap extends what has already been printed.
func (r *renderer) continues(snap chat.Snapshot) bool {
	if r.printed > len(snap.Log) {
		return false
	}
	return r.printed == 0 || snap.Log[r.printed-1].ID == r.lastID
}

func (r *renderer) reset(sessionID string) {
	r.sessionID = sessionID
	r.printed = 0
	r.lastID = 0
	r.waiting = false
}
