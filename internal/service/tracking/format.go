package tracking

import (
	"strings"
	"time"

	"visitor-relay/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type MessageInput struct {
	Event      Event
	Resolution Resolution
	Session    *SessionOutcome
}

// FormatMessage renders the HTML notification for an accepted event. The
// second result is false when the event produces no message.
func FormatMessage(in MessageInput) (string, bool) {
	ev := in.Event
	var b strings.Builder

	switch ev.Type {
	case model.EventPageView:
		if !in.Resolution.Returning {
			b.WriteString("<b>New visitor</b>\n")
			writePage(&b, ev.Title, ev.URL)
			if ev.Referrer != "" {
				b.WriteString("\nReferrer: ")
				b.WriteString(escape(ev.Referrer))
			}
			return b.String(), true
		}
		b.WriteString("<b>Visitor navigated</b>\n")
		if prev := in.Resolution.PreviousPageURL; prev != "" && prev != ev.URL {
			b.WriteString(escape(prev))
			b.WriteString(" → ")
			b.WriteString(escape(ev.URL))
			if ev.Title != "" {
				b.WriteString("\n")
				b.WriteString(escape(ev.Title))
			}
			return b.String(), true
		}
		writePage(&b, ev.Title, ev.URL)
		return b.String(), true

	case model.EventSessionStart:
		if in.Session != nil && in.Session.Stale {
			return "", false
		}
		if !in.Resolution.Returning {
			b.WriteString("<b>New visitor</b>\n")
		}
		b.WriteString("<b>Session started</b>")
		if ev.URL != "" {
			b.WriteString("\n")
			writePage(&b, ev.Title, ev.URL)
		}
		return b.String(), true

	case model.EventSessionEnd:
		if in.Session == nil || in.Session.Stale {
			return "", false
		}
		switch in.Session.Status {
		case model.SessionStatusTimeout:
			b.WriteString("<b>Session timed out (inactivity)</b>")
		case model.SessionStatusClosed:
			b.WriteString("<b>Session closed</b>")
		default:
			return "", false
		}
		active := ev.Duration
		if active <= 0 {
			active = in.Session.ActiveDuration
		}
		if active > 0 {
			b.WriteString("\nActive for ")
			b.WriteString(active.Round(time.Second).String())
		}
		return b.String(), true
	}

	return "", false
}

func writePage(b *strings.Builder, title, url string) {
	if title != "" {
		b.WriteString(escape(title))
		b.WriteString("\n")
	}
	b.WriteString(escape(url))
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
