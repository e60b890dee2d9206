// Package notify delivers the post-run subscriber summary. Delivery is best
// effort: the scheduler logs failures and never retries.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	htmlesc "html"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jordan-wright/email"

	"github.com/knakagawa/trendwatch/pkg/cache"
	"github.com/knakagawa/trendwatch/pkg/trends"
)

// topPerSource bounds how many items each source contributes to the summary.
const topPerSource = 5

// Notifier is told that a scheduled refresh run completed.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Nop is a Notifier that does nothing. Used when no SMTP configuration or
// subscribers are present.
type Nop struct{}

func (Nop) Notify(context.Context) error { return nil }

// CacheReader is the read surface the notifier re-reads its data from.
// Satisfied by cache.Store.
type CacheReader interface {
	Status() ([]cache.KeyStatus, error)
	Get(key trends.Key) (*trends.Record, error)
}

// SMTPConfig is the delivery endpoint for summary mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns the host:port dial address.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EmailNotifier mails a trend summary to the configured subscribers. It
// takes no payload from the caller; it re-reads whatever it needs from the
// cache at delivery time.
type EmailNotifier struct {
	smtp        SMTPConfig
	subscribers []string
	reader      CacheReader
	clock       clock.Clock
	logger      *slog.Logger
	location    *time.Location

	// send is swappable for tests.
	send func(e *email.Email) error
}

// NewEmailNotifier creates a notifier delivering to subscribers via cfg.
func NewEmailNotifier(cfg SMTPConfig, subscribers []string, reader CacheReader, loc *time.Location, clk clock.Clock, logger *slog.Logger) *EmailNotifier {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	n := &EmailNotifier{
		smtp:        cfg,
		subscribers: subscribers,
		reader:      reader,
		clock:       clk,
		logger:      logger,
		location:    loc,
	}
	n.send = func(e *email.Email) error {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		return e.Send(cfg.Addr(), auth)
	}
	return n
}

// Notify composes the summary from the current cache contents and mails it
// to every subscriber.
func (n *EmailNotifier) Notify(ctx context.Context) error {
	if len(n.subscribers) == 0 {
		return nil
	}

	subject, text, html, err := n.compose()
	if err != nil {
		return fmt.Errorf("composing summary: %w", err)
	}
	if text == "" {
		n.logger.Info("cache empty, skipping notification")
		return nil
	}

	e := email.NewEmail()
	e.From = n.smtp.From
	e.To = n.subscribers
	e.Subject = subject
	e.Text = []byte(text)
	e.HTML = []byte(html)

	if err := n.send(e); err != nil {
		return fmt.Errorf("sending summary to %d subscribers: %w", len(n.subscribers), err)
	}
	n.logger.Info("summary mailed", "subscribers", len(n.subscribers))
	return nil
}

// compose renders the subject, plain-text and HTML bodies from the cache.
// An empty text body means there is nothing to send.
func (n *EmailNotifier) compose() (subject, text, html string, err error) {
	statuses, err := n.reader.Status()
	if err != nil {
		return "", "", "", err
	}
	if len(statuses) == 0 {
		return "", "", "", nil
	}

	now := n.clock.Now().In(n.location)
	subject = "Trend summary " + now.Format("2006-01-02")

	var tb, hb strings.Builder
	tb.WriteString("Trend summary, updated " + now.Format("2006-01-02 15:04") + "\n")
	hb.WriteString("<html><body><h1>Trend summary</h1><p>Updated " + now.Format("2006-01-02 15:04") + "</p>")

	for _, st := range statuses {
		rec, err := n.reader.Get(st.Key)
		if err != nil || rec == nil {
			continue
		}
		var items []trends.Item
		if err := json.Unmarshal(rec.Payload, &items); err != nil || len(items) == 0 {
			continue
		}
		if len(items) > topPerSource {
			items = items[:topPerSource]
		}

		heading := fmt.Sprintf("%s (%s)", st.Key.Source, st.Key.Region)
		tb.WriteString("\n" + heading + "\n")
		hb.WriteString("<h2>" + heading + "</h2><ol>")
		for _, it := range items {
			tb.WriteString(fmt.Sprintf("  %d. %s\n", it.Rank, it.Title))
			hb.WriteString("<li>" + htmlesc.EscapeString(it.Title) + "</li>")
		}
		hb.WriteString("</ol>")
	}
	hb.WriteString("</body></html>")

	return subject, tb.String(), hb.String(), nil
}
