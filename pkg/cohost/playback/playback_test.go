package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/cohost/pkg/cohost/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu    sync.Mutex
	calls []string
	fail  func(text string) bool
}

func (s *stubProvider) Synthesize(_ context.Context, text string) (audio.Waveform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	if s.fail != nil && s.fail(text) {
		return audio.Waveform{}, errors.New("speech server down")
	}
	return audio.Waveform{Samples: []float32{0.5, -2, 0.5}, SampleRate: 16000}, nil
}

func (s *stubProvider) setFail(fn func(string) bool) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type played struct {
	dev      Device
	samples  []float32
	channels int
	rate     int
}

type fakeBackend struct {
	mu         sync.Mutex
	devices    []Device
	defaultDev *Device
	block      chan struct{}
	plays      []played
}

func (f *fakeBackend) Devices() ([]Device, error) { return f.devices, nil }

func (f *fakeBackend) DefaultOutput() (Device, error) {
	if f.defaultDev == nil {
		return Device{}, ErrNoOutputDevice
	}
	return *f.defaultDev, nil
}

func (f *fakeBackend) Play(ctx context.Context, dev Device, samples []float32, channels, rate int) error {
	f.mu.Lock()
	f.plays = append(f.plays, played{dev: dev, samples: samples, channels: channels, rate: rate})
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) lastPlay() played {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[len(f.plays)-1]
}

func speakers() *fakeBackend {
	def := Device{Index: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 16000, IsDefault: true}
	return &fakeBackend{
		devices: []Device{
			{Index: 0, Name: "Microphone", MaxOutputChannels: 0, DefaultSampleRate: 44100},
			def,
			{Index: 2, Name: "Headset", MaxOutputChannels: 1, DefaultSampleRate: 8000},
		},
		defaultDev: &def,
	}
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"Hello there!", "How are you?", "Fine."}, SplitSentences("Hello there! How are you? Fine."))
	assert.Equal(t, []string{"no terminator"}, SplitSentences("no terminator"))
	assert.Empty(t, SplitSentences(" ... "))
}

func TestStripEmotes(t *testing.T) {
	assert.Equal(t, "hi chat", StripEmotes("hi :Kappa: chat"))
	assert.Equal(t, "", StripEmotes(":PogChamp:"))
}

func TestEngine_SynthesizeNormalizesAndCaches(t *testing.T) {
	provider := &stubProvider{}
	cache := audio.NewCache(t.TempDir(), nil)
	e := NewEngine(provider, speakers(), cache, Config{}, nil)

	w, err := e.Synthesize(context.Background(), "First. Second!")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
	assert.Len(t, w.Samples, 6)
	for _, s := range w.Samples {
		assert.LessOrEqual(t, s, float32(1))
		assert.GreaterOrEqual(t, s, float32(-1))
	}

	again, err := e.Synthesize(context.Background(), "First. Second!")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "second call should be served from cache")
	assert.Len(t, again.Samples, 6)
}

func TestEngine_SynthesizeSkipsFailedSentences(t *testing.T) {
	provider := &stubProvider{fail: func(s string) bool { return strings.HasPrefix(s, "Broken") }}
	e := NewEngine(provider, speakers(), nil, Config{}, nil)

	w, err := e.Synthesize(context.Background(), "Works. Broken one. Works too.")
	require.NoError(t, err)
	assert.Len(t, w.Samples, 6)

	provider.setFail(func(string) bool { return true })
	_, err = e.Synthesize(context.Background(), "Nothing works.")
	assert.ErrorIs(t, err, audio.ErrInvalidWaveform)
}

func TestEngine_SelectDevice(t *testing.T) {
	b := speakers()

	idx := 2
	d, err := NewEngine(&stubProvider{}, b, nil, Config{DeviceIndex: &idx}, nil).SelectDevice()
	require.NoError(t, err)
	assert.Equal(t, "Headset", d.Name)

	// An input-only device is not eligible.
	idx = 0
	d, err = NewEngine(&stubProvider{}, b, nil, Config{DeviceIndex: &idx}, nil).SelectDevice()
	require.NoError(t, err)
	assert.Equal(t, "Speakers", d.Name)

	b.defaultDev = nil
	d, err = NewEngine(&stubProvider{}, b, nil, Config{}, nil).SelectDevice()
	require.NoError(t, err)
	assert.Equal(t, "Speakers", d.Name)

	_, err = NewEngine(&stubProvider{}, &fakeBackend{}, nil, Config{}, nil).SelectDevice()
	assert.ErrorIs(t, err, ErrNoOutputDevice)
}

func TestEngine_PlayStereoAndResample(t *testing.T) {
	b := speakers()
	e := NewEngine(&stubProvider{}, b, nil, Config{}, nil)

	w := audio.Waveform{Samples: []float32{0.1, 0.2}, SampleRate: 16000}
	require.NoError(t, e.Play(context.Background(), w))
	p := b.lastPlay()
	assert.Equal(t, 2, p.channels)
	assert.Equal(t, 16000, p.rate)
	assert.Equal(t, []float32{0.1, 0.1, 0.2, 0.2}, p.samples)

	idx := 2
	e = NewEngine(&stubProvider{}, b, nil, Config{DeviceIndex: &idx}, nil)
	require.NoError(t, e.Play(context.Background(), audio.Waveform{Samples: []float32{0, 0.5, 1, 0.5}, SampleRate: 16000}))
	p = b.lastPlay()
	assert.Equal(t, 1, p.channels)
	assert.Equal(t, 8000, p.rate)
	assert.Equal(t, []float32{0, 1}, p.samples)
}

func TestEngine_PlayStopsWaitingOnCancel(t *testing.T) {
	b := speakers()
	b.block = make(chan struct{})
	defer close(b.block)
	e := NewEngine(&stubProvider{}, b, nil, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Play(ctx, audio.Waveform{Samples: []float32{0.1}, SampleRate: 16000})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_SpeakRejectsEmoteOnlyText(t *testing.T) {
	provider := &stubProvider{}
	e := NewEngine(provider, speakers(), nil, Config{}, nil)

	assert.ErrorIs(t, e.Speak(context.Background(), ":Kappa: :LUL:"), audio.ErrInvalidWaveform)
	assert.Zero(t, provider.callCount())

	require.NoError(t, e.Speak(context.Background(), "hello :Kappa: chat"))
	assert.Equal(t, []string{"hello chat"}, provider.calls)
}

func TestSupervisor_RetriesUntilReady(t *testing.T) {
	provider := &stubProvider{}
	var attempts int
	provider.fail = func(string) bool {
		attempts++
		return attempts < 2
	}
	s := NewSupervisor(NewEngine(provider, speakers(), nil, Config{}, nil), SupervisorConfig{
		Retries:    3,
		RetryDelay: 5 * time.Millisecond,
	}, nil)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, "TTS system initialization test.", provider.calls[0])
}

func TestSupervisor_GivesUpThenRecoversLazily(t *testing.T) {
	provider := &stubProvider{fail: func(string) bool { return true }}
	s := NewSupervisor(NewEngine(provider, speakers(), nil, Config{}, nil), SupervisorConfig{
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, nil)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return provider.callCount() == 2 }, time.Second, time.Millisecond)
	s.Stop()
	assert.False(t, s.Ready())

	assert.False(t, s.Speak(context.Background(), "anyone there?"))

	provider.setFail(nil)
	assert.True(t, s.Speak(context.Background(), "back online."))
	assert.True(t, s.Ready())
}

func TestSupervisor_SpeakFailureMarksNotReady(t *testing.T) {
	provider := &stubProvider{}
	s := NewSupervisor(NewEngine(provider, speakers(), nil, Config{}, nil), SupervisorConfig{}, nil)
	require.True(t, s.Ensure(context.Background()))

	// Emote-only replies cannot be spoken.
	assert.False(t, s.Speak(context.Background(), ":Kappa:"))
	assert.False(t, s.Ready())
}
