package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knakagawa/trendwatch/pkg/cache"
	"github.com/knakagawa/trendwatch/pkg/trends"
)

// fakeReader serves canned cache contents.
type fakeReader struct {
	statuses []cache.KeyStatus
	records  map[trends.Key]*trends.Record
}

func (f *fakeReader) Status() ([]cache.KeyStatus, error) { return f.statuses, nil }
func (f *fakeReader) Get(key trends.Key) (*trends.Record, error) {
	return f.records[key], nil
}

func readerWithItems(t *testing.T, key trends.Key, items []trends.Item) *fakeReader {
	t.Helper()
	payload, err := json.Marshal(items)
	require.NoError(t, err)
	return &fakeReader{
		statuses: []cache.KeyStatus{{Key: key, RecordCount: len(items)}},
		records: map[trends.Key]*trends.Record{
			key: {Key: key, Payload: payload, RecordCount: len(items)},
		},
	}
}

func newTestNotifier(reader CacheReader) (*EmailNotifier, *[]*email.Email) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 14, 5, 0, 0, time.UTC))

	n := NewEmailNotifier(
		SMTPConfig{Host: "smtp.example.com", Port: 587, From: "trends@example.com"},
		[]string{"alice@example.com", "bob@example.com"},
		reader, time.UTC, mock, nil)

	var sent []*email.Email
	n.send = func(e *email.Email) error {
		sent = append(sent, e)
		return nil
	}
	return n, &sent
}

func TestEmailNotifier_SendsComposedSummary(t *testing.T) {
	// Given a cache with one source's items
	key := trends.Key{Source: "crypto", Region: "JP"}
	reader := readerWithItems(t, key, []trends.Item{
		{Rank: 1, Title: "Bitcoin (BTC)", Score: 9000000},
		{Rank: 2, Title: "Ethereum (ETH)", Score: 500000},
	})
	notifier, sent := newTestNotifier(reader)

	// When notifying
	require.NoError(t, notifier.Notify(context.Background()))

	// Then one mail goes to all subscribers with both bodies populated
	require.Len(t, *sent, 1)
	mail := (*sent)[0]
	assert.Equal(t, "trends@example.com", mail.From)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, mail.To)
	assert.Equal(t, "Trend summary 2024-06-01", mail.Subject)
	assert.Contains(t, string(mail.Text), "crypto (JP)")
	assert.Contains(t, string(mail.Text), "1. Bitcoin (BTC)")
	assert.Contains(t, string(mail.HTML), "<h2>crypto (JP)</h2>")
	assert.Contains(t, string(mail.HTML), "<li>Bitcoin (BTC)</li>")
}

func TestEmailNotifier_LimitsItemsPerSource(t *testing.T) {
	// Given a source with more items than the summary shows
	var items []trends.Item
	for i := 1; i <= 12; i++ {
		items = append(items, trends.Item{Rank: i, Title: fmt.Sprintf("Entry %d", i)})
	}
	key := trends.Key{Source: "hackernews", Region: "US"}
	notifier, sent := newTestNotifier(readerWithItems(t, key, items))

	// When notifying
	require.NoError(t, notifier.Notify(context.Background()))

	// Then only the top entries appear
	require.Len(t, *sent, 1)
	text := string((*sent)[0].Text)
	assert.Contains(t, text, "Entry 5")
	assert.NotContains(t, text, "Entry 6")
}

func TestEmailNotifier_EscapesTitlesInHTML(t *testing.T) {
	key := trends.Key{Source: "hackernews", Region: "US"}
	notifier, sent := newTestNotifier(readerWithItems(t, key, []trends.Item{
		{Rank: 1, Title: `<script>alert("x")</script>`},
	}))

	require.NoError(t, notifier.Notify(context.Background()))

	require.Len(t, *sent, 1)
	html := string((*sent)[0].HTML)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestEmailNotifier_EmptyCacheSkipsDelivery(t *testing.T) {
	notifier, sent := newTestNotifier(&fakeReader{})

	require.NoError(t, notifier.Notify(context.Background()))

	assert.Empty(t, *sent)
}

func TestEmailNotifier_NoSubscribersSkipsDelivery(t *testing.T) {
	key := trends.Key{Source: "crypto", Region: "JP"}
	notifier, sent := newTestNotifier(readerWithItems(t, key, []trends.Item{{Rank: 1, Title: "x"}}))
	notifier.subscribers = nil

	require.NoError(t, notifier.Notify(context.Background()))

	assert.Empty(t, *sent)
}

func TestEmailNotifier_SendFailureSurfaces(t *testing.T) {
	key := trends.Key{Source: "crypto", Region: "JP"}
	notifier, _ := newTestNotifier(readerWithItems(t, key, []trends.Item{{Rank: 1, Title: "x"}}))
	notifier.send = func(*email.Email) error { return errors.New("connection refused") }

	err := notifier.Notify(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSMTPConfig_Addr(t *testing.T) {
	cfg := SMTPConfig{Host: "mail.example.com", Port: 465}
	assert.Equal(t, "mail.example.com:465", cfg.Addr())
}

func TestNop_NotifyDoesNothing(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background()))
}
