package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p := New("CoHostBot", Options{}, nil)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msg, err := p.Parse(RawMessage{
		Content:   "  @CoHostBot what do you think of @Streamer's PogChamp play? PogChamp  ",
		Author:    "viewer1",
		Timestamp: ts,
	})
	require.NoError(t, err)

	assert.Equal(t, "@CoHostBot what do you think of @Streamer's PogChamp play? PogChamp", msg.Content)
	assert.Equal(t, "viewer1", msg.Author)
	assert.Equal(t, ts, msg.Timestamp)
	assert.False(t, msg.IsCommand)
	assert.True(t, msg.IsQuestion)
	assert.True(t, msg.AddressedToBot)
	assert.Equal(t, []string{"cohostbot", "streamer"}, msg.MentionedUsers)
	// Heuristic fallback: capitalized words, deduplicated.
	assert.Equal(t, []string{"CoHostBot", "Streamer", "PogChamp"}, msg.Emotes)
}

func TestParse_SuppliedEmotesWin(t *testing.T) {
	p := New("bot", Options{}, nil)
	msg, err := p.Parse(RawMessage{Content: "Hello Kappa", Author: "a", Emotes: []string{"Kappa"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Kappa"}, msg.Emotes)

	msg, err = p.Parse(RawMessage{Content: "Hello Kappa", Author: "a", Emotes: []string{}})
	require.NoError(t, err)
	assert.Empty(t, msg.Emotes)
}

func TestParse_Malformed(t *testing.T) {
	p := New("bot", Options{}, nil)
	for _, raw := range []RawMessage{
		{Content: "", Author: "a"},
		{Content: "   ", Author: "a"},
		{Content: "hi", Author: ""},
	} {
		_, err := p.Parse(raw)
		assert.True(t, errors.Is(err, ErrMalformed), "%+v", raw)
	}
}

func TestParse_Commands(t *testing.T) {
	msg, err := New("bot", Options{}, nil).Parse(RawMessage{Content: "!tts hello", Author: "a"})
	require.NoError(t, err)
	assert.True(t, msg.IsCommand)
	assert.True(t, msg.AddressedToBot)
	assert.False(t, msg.Timestamp.IsZero())

	_, err = New("bot", Options{SuppressCommands: true}, nil).Parse(RawMessage{Content: "!tts hello", Author: "a"})
	assert.ErrorIs(t, err, ErrSuppressed)
}

func TestAddressedToBot(t *testing.T) {
	p := New("cohostbot", Options{}, nil)
	tests := map[string]bool{
		"hey CoHostBot":       true,
		"@cohostbot hi":       true,
		"!uptime":             true,
		"nice play streamer":  false,
		"@someoneelse hello?": false,
	}
	for in, want := range tests {
		msg, err := p.Parse(RawMessage{Content: in, Author: "a"})
		require.NoError(t, err)
		assert.Equal(t, want, msg.AddressedToBot, in)
	}
}

func TestShouldRespond(t *testing.T) {
	p := New("cohostbot", Options{}, nil)
	tests := []struct {
		text string
		want bool
	}{
		{"!tts hello", true},
		{"!anything", true},
		// Bot not named at all: respond.
		{"ok", true},
		{"what a play", true},
		// Explicit @-mention: respond.
		{"@cohostbot hi", true},
		// Named without @ and phrased as a question: respond.
		{"what do you think cohostbot?", true},
		{"Is cohostbot awake?", true},
		// Named, not a question, under two words: suppressed.
		{"cohostbot", false},
		// Named, not a question, longer: no rule matches.
		{"cohostbot is cool", false},
		{"hey cohostbot what's up?", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ShouldRespond(tt.text), tt.text)
	}
}

func TestShouldRespond_NoBotName(t *testing.T) {
	assert.True(t, New("", Options{}, nil).ShouldRespond("anything at all"))
}

func TestFormatForDialogue(t *testing.T) {
	p := New("bot", Options{}, nil)
	msg, err := p.Parse(RawMessage{Content: "is this live?", Author: "viewer", Emotes: []string{}})
	require.NoError(t, err)

	d := FormatForDialogue(msg)
	assert.Equal(t, "user", d.Role)
	assert.Equal(t, "viewer", d.Author)
	assert.Equal(t, "is this live?", d.Content)
	assert.Equal(t, true, d.Metadata["is_question"])
	assert.Equal(t, false, d.Metadata["is_command"])
}
