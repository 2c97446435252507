package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botnerd/internal/types"
)

// =============================================================================
// SIMULATED COLLABORATORS
// =============================================================================
// One in-memory twin per hardware interface. They exist so `bot run --sim`,
// the self test and the package tests can exercise the whole pipeline with
// no camera, microphone, motors or GPIO attached. All of them are safe to
// drive from a test goroutine while a worker reads them.

// SimRecognizer returns a scripted observation and scripted enrollment
// samples.
type SimRecognizer struct {
	mu     sync.Mutex
	obs    *types.Observation
	sample []float32
	err    error
}

func NewSimRecognizer() *SimRecognizer {
	return &SimRecognizer{sample: []float32{1, 0, 0}}
}

// Place puts a face in front of the simulated camera.
func (s *SimRecognizer) Place(obs *types.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
}

// Clear removes the face.
func (s *SimRecognizer) Clear() { s.Place(nil) }

// SetSample scripts the embedding returned for enrollment captures.
func (s *SimRecognizer) SetSample(v []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = v
}

// Fail makes every call return err until cleared with Fail(nil).
func (s *SimRecognizer) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *SimRecognizer) Observe(ctx context.Context) (*types.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.obs == nil {
		return nil, nil
	}
	obs := *s.obs
	return &obs, nil
}

func (s *SimRecognizer) Sample(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]float32{}, s.sample...), nil
}

// SimCapturer hands out queued recordings. Capture blocks until a recording
// is queued with Say or the capture window closes empty.
type SimCapturer struct {
	refs chan string
}

func NewSimCapturer() *SimCapturer {
	return &SimCapturer{refs: make(chan string, 16)}
}

// Say queues one recording for the next capture.
func (s *SimCapturer) Say(audioRef string) {
	s.refs <- audioRef
}

func (s *SimCapturer) Capture(ctx context.Context, opts types.CaptureOpts) (string, error) {
	max := opts.MaxDuration
	if max <= 0 {
		max = time.Second
	}
	select {
	case ref := <-s.refs:
		return ref, nil
	case <-time.After(max):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SimTranscriber maps audio refs to scripted text. Unknown refs transcribe
// to nothing, which the pipeline drops as noise.
type SimTranscriber struct {
	mu    sync.Mutex
	texts map[string]string
}

func NewSimTranscriber() *SimTranscriber {
	return &SimTranscriber{texts: make(map[string]string)}
}

// Script sets the transcription for one audio ref.
func (s *SimTranscriber) Script(audioRef, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[audioRef] = text
}

func (s *SimTranscriber) Transcribe(ctx context.Context, audioRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts[audioRef], nil
}

// SimSpeaker records everything spoken.
type SimSpeaker struct {
	mu     sync.Mutex
	spoken []string
	primed []string
	delay  time.Duration
}

func NewSimSpeaker() *SimSpeaker {
	return &SimSpeaker{}
}

// SetDelay makes each Speak take this long, for tests that need playback to
// overlap other traffic.
func (s *SimSpeaker) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *SimSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	delay := s.delay
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *SimSpeaker) Prime(ctx context.Context, phrases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primed = append(s.primed, phrases...)
	return nil
}

// Spoken returns everything spoken so far.
func (s *SimSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.spoken...)
}

// Primed returns every primed phrase.
func (s *SimSpeaker) Primed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.primed...)
}

// SimDriver records every actuation call in order.
type SimDriver struct {
	mu    sync.Mutex
	calls []string
}

func NewSimDriver() *SimDriver {
	return &SimDriver{}
}

func (s *SimDriver) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *SimDriver) Drive(verb string) error {
	s.record("drive:" + verb)
	return nil
}

func (s *SimDriver) Stop() error {
	s.record("stop")
	return nil
}

func (s *SimDriver) Pan(side int) error {
	s.record(fmt.Sprintf("pan:%d", side))
	return nil
}

func (s *SimDriver) Release() error {
	s.record("release")
	return nil
}

// Calls returns the actuation log.
func (s *SimDriver) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

// SimRangeSensor reports a settable distance.
type SimRangeSensor struct {
	mu     sync.Mutex
	meters float64
}

func NewSimRangeSensor(meters float64) *SimRangeSensor {
	return &SimRangeSensor{meters: meters}
}

// Set moves the simulated obstacle.
func (s *SimRangeSensor) Set(meters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meters = meters
}

func (s *SimRangeSensor) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meters, nil
}

// SimRenderer remembers the last face it was asked to draw.
type SimRenderer struct {
	mu       sync.Mutex
	emotion  types.Emotion
	subtitle string
	frames   int
	closed   bool
}

func NewSimRenderer() *SimRenderer {
	return &SimRenderer{}
}

func (s *SimRenderer) Render(emotion types.Emotion, subtitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotion = emotion
	s.subtitle = subtitle
	s.frames++
	return nil
}

func (s *SimRenderer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Last returns the most recent frame.
func (s *SimRenderer) Last() (types.Emotion, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emotion, s.subtitle
}

// Frames returns how many frames were drawn.
func (s *SimRenderer) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close was called.
func (s *SimRenderer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SimBeeper records beep patterns.
type SimBeeper struct {
	mu    sync.Mutex
	beeps []string
}

func NewSimBeeper() *SimBeeper {
	return &SimBeeper{}
}

func (s *SimBeeper) Beep(pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beeps = append(s.beeps, pattern)
	return nil
}

// Beeps returns every pattern sounded so far.
func (s *SimBeeper) Beeps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.beeps...)
}
