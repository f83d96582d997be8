package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.sent = append(f.sent, title+"|"+message)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventInvariant, " "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventCycleSummary, "t", "m"))
	assert.Empty(t, s.sent)

	require.NoError(t, n.Notify(context.Background(), EventInvariant, "t", "m"))
	assert.Equal(t, []string{"t|m"}, s.sent)
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeSender{name: "bad", err: boom}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventCycleFailed, "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.sent, 1)
}

func TestNotifierInvariantMessage(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	ie := domain.NewInvariantError(domain.ErrDispatchedPositionAlreadyExists, "AAPL", domain.PositionStatusDispatched)
	require.NoError(t, n.Invariant(context.Background(), ie))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "Invariant violated|ticker: AAPL\nrule: dispatched position already exists\nstatus: DISPATCHED", s.sent[0])
}

func TestNotifierWithoutSenders(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventInvariant, "t", "m"))
}

func TestDispatchedHandlerNeverFails(t *testing.T) {
	s := &fakeSender{name: "a", err: errors.New("down")}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	err := n.Dispatched(context.Background(), domain.Signal{Ticker: "MSFT", DispatchedPosition: true, OpenPosition: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Position dispatched|MSFT: bracket adjustment"}, s.sent)

	require.NoError(t, n.Dispatched(context.Background(), "not a signal"))
	assert.Len(t, s.sent, 1)
}

type fakeTelegram struct {
	msgs []tgbotapi.MessageConfig
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.msgs = append(f.msgs, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramSenderEscapesMarkdown(t *testing.T) {
	api := &fakeTelegram{}
	s := &TelegramSender{api: api, chatID: 42}

	require.NoError(t, s.Send(context.Background(), "Cycle", "BRK_B closed"))
	require.Len(t, api.msgs, 1)
	assert.Equal(t, int64(42), api.msgs[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, api.msgs[0].ParseMode)
	assert.Equal(t, "*Cycle*\nBRK\\_B closed", api.msgs[0].Text)
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "tradecycle")
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Send(context.Background(), "Title", "Body"))
	assert.Equal(t, "tradecycle", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Title", got.Embeds[0].Title)
	assert.Equal(t, "Body", got.Embeds[0].Description)
	assert.Equal(t, "2024-03-01T12:00:00Z", got.Embeds[0].Timestamp)
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
