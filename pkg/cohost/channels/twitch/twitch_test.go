package twitch

import (
	"context"
	"strings"
	"testing"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"
	"github.com/jholhewres/cohost/pkg/cohost/channels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func privmsg(user, text string, emotes ...string) irc.PrivateMessage {
	m := irc.PrivateMessage{
		User:    irc.User{ID: "42", Name: user, DisplayName: strings.ToUpper(user[:1]) + user[1:]},
		Channel: "streamer",
		Message: text,
		ID:      "msg-1",
		Time:    time.Unix(1700000000, 0),
	}
	for _, e := range emotes {
		m.Emotes = append(m.Emotes, &irc.Emote{Name: e, Count: 1})
	}
	return m
}

func TestToIncoming(t *testing.T) {
	in := toIncoming(privmsg("viewer", "Kappa hi there", "Kappa"))

	assert.Equal(t, "twitch", in.Channel)
	assert.Equal(t, "viewer", in.From)
	assert.Equal(t, "Viewer", in.Author())
	assert.Equal(t, "streamer", in.ChatID)
	assert.Equal(t, []string{"Kappa"}, in.Emotes)
	assert.Equal(t, time.Unix(1700000000, 0), in.Timestamp)
}

func TestToIncoming_NoEmotesIsNil(t *testing.T) {
	in := toIncoming(privmsg("viewer", "hello PogChamp"))
	assert.Nil(t, in.Emotes)
}

func TestOnPrivateMessage_IgnoresOwnEcho(t *testing.T) {
	tw := New(Config{Username: "CoHostBot", Channel: "#Streamer"}, nil)

	tw.onPrivateMessage(privmsg("cohostbot", "my own reply"))
	tw.onPrivateMessage(privmsg("viewer", "hi bot"))

	select {
	case msg := <-tw.Receive():
		assert.Equal(t, "hi bot", msg.Content)
	default:
		t.Fatal("expected one forwarded message")
	}
	select {
	case msg := <-tw.Receive():
		t.Fatalf("unexpected message %q", msg.Content)
	default:
	}
	assert.False(t, tw.Health().LastMessageAt.IsZero())
}

func TestConnect_RequiresToken(t *testing.T) {
	tw := New(Config{Username: "bot", Channel: "streamer"}, nil)
	require.Error(t, tw.Connect(context.Background()))
}

func TestSend_Disconnected(t *testing.T) {
	tw := New(Config{Username: "bot", Channel: "streamer"}, nil)
	err := tw.Send(context.Background(), "", &channels.OutgoingMessage{Content: "hi"})
	assert.ErrorIs(t, err, channels.ErrChannelDisconnected)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	lines := splitMessage("one two three four five", 9)
	assert.Equal(t, []string{"one two", "three", "four five"}, lines)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 9)
	}
}
