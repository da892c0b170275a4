package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/giftclaim/internal/domain"
)

func TestClassifyLoginError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.LoginErrorKind
	}{
		{"invalid phone", tgerr.New(400, "PHONE_NUMBER_INVALID"), domain.LoginInvalidIdentity},
		{"banned phone", tgerr.New(400, "PHONE_NUMBER_BANNED"), domain.LoginInvalidIdentity},
		{"invalid code", tgerr.New(400, "PHONE_CODE_INVALID"), domain.LoginInvalidCode},
		{"expired code", tgerr.New(400, "PHONE_CODE_EXPIRED"), domain.LoginExpiredCode},
		{"password needed rpc", tgerr.New(401, "SESSION_PASSWORD_NEEDED"), domain.LoginPasswordRequired},
		{"password needed sentinel", fmt.Errorf("sign in: %w", auth.ErrPasswordAuthNeeded), domain.LoginPasswordRequired},
		{"phone flood", tgerr.New(400, "PHONE_NUMBER_FLOOD"), domain.LoginRateLimited},
		{"unknown rpc", tgerr.New(500, "INTERNAL"), domain.LoginRejected},
		{"plain error", errors.New("boom"), domain.LoginRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyLoginError(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyLoginError_FloodWaitCarriesDuration(t *testing.T) {
	got := classifyLoginError(tgerr.New(420, "FLOOD_WAIT_30"))

	assert.Equal(t, domain.LoginRateLimited, got.Kind)
	assert.Equal(t, 30*time.Second, got.Wait)
}

func TestExtractMessages(t *testing.T) {
	newMessage := func(id int, peer tg.PeerClass, text string, out bool) *tg.Message {
		return &tg.Message{ID: id, PeerID: peer, Message: text, Out: out}
	}

	tests := []struct {
		name    string
		updates tg.UpdatesClass
		want    []domain.Message
	}{
		{
			name: "updates container",
			updates: &tg.Updates{Updates: []tg.UpdateClass{
				&tg.UpdateNewMessage{Message: newMessage(1, &tg.PeerUser{UserID: 77}, "hi", false)},
				&tg.UpdateNewChannelMessage{Message: newMessage(2, &tg.PeerChannel{ChannelID: 5}, "chan", false)},
				&tg.UpdateUserTyping{UserID: 77},
			}},
			want: []domain.Message{
				{ID: 1, ChatID: 77, Text: "hi"},
				{ID: 2, ChatID: -(channelIDOffset + 5), Text: "chan"},
			},
		},
		{
			name: "combined",
			updates: &tg.UpdatesCombined{Updates: []tg.UpdateClass{
				&tg.UpdateNewMessage{Message: newMessage(3, &tg.PeerChat{ChatID: 9}, "group", true)},
			}},
			want: []domain.Message{{ID: 3, ChatID: -9, Text: "group", Outgoing: true}},
		},
		{
			name:    "short",
			updates: &tg.UpdateShort{Update: &tg.UpdateNewMessage{Message: newMessage(4, &tg.PeerUser{UserID: 1}, "x", false)}},
			want:    []domain.Message{{ID: 4, ChatID: 1, Text: "x"}},
		},
		{
			name:    "short message",
			updates: &tg.UpdateShortMessage{ID: 5, UserID: 42, Message: "dm", Out: true},
			want:    []domain.Message{{ID: 5, ChatID: 42, Text: "dm", Outgoing: true}},
		},
		{
			name:    "short chat message",
			updates: &tg.UpdateShortChatMessage{ID: 6, ChatID: 8, FromID: 1, Message: "chat"},
			want:    []domain.Message{{ID: 6, ChatID: -8, Text: "chat"}},
		},
		{
			name: "service messages are ignored",
			updates: &tg.Updates{Updates: []tg.UpdateClass{
				&tg.UpdateNewMessage{Message: &tg.MessageService{ID: 7}},
			}},
			want: nil,
		},
		{
			name:    "too long",
			updates: &tg.UpdatesTooLong{},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractMessages(tt.updates))
		})
	}
}

func TestMessageText_AppendsHiddenLinks(t *testing.T) {
	msg := &tg.Message{
		Message: "free money here",
		Entities: []tg.MessageEntityClass{
			&tg.MessageEntityBold{Offset: 0, Length: 4},
			&tg.MessageEntityTextURL{Offset: 5, Length: 5, URL: "https://gift.truemoney.com/campaign/?v=abc"},
		},
	}

	assert.Equal(t, "free money here\nhttps://gift.truemoney.com/campaign/?v=abc", messageText(msg))
}

func TestMemorySession(t *testing.T) {
	ctx := context.Background()

	empty := newMemorySession(nil)
	_, err := empty.LoadSession(ctx)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, empty.bytes())

	initial := []byte("blob")
	s := newMemorySession(initial)
	initial[0] = 'X'

	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	require.NoError(t, s.StoreSession(ctx, []byte("next")))
	assert.Equal(t, []byte("next"), s.bytes())
}

func TestSession_HandleUpdatesDeliversToSink(t *testing.T) {
	s := &Session{}
	var got []domain.Message
	s.Subscribe(func(m domain.Message) { got = append(got, m) })

	err := s.handleUpdates(context.Background(), &tg.UpdateShortMessage{ID: 1, UserID: 2, Message: "hello"})

	require.NoError(t, err)
	assert.Equal(t, []domain.Message{{ID: 1, ChatID: 2, Text: "hello"}}, got)
}

func TestSession_NotConnected(t *testing.T) {
	s := &Session{}
	ctx := context.Background()

	_, err := s.SendCode(ctx)
	var loginErr *domain.LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = s.Self(ctx)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.False(t, s.Connected())
}
