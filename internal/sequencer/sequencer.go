// Package sequencer schedules a Score against a VoiceEngine one output frame
// at a time.
package sequencer

type VoiceEngine interface {
	NoteOn(note int, velocity int, pan int) int
	NoteOff(id int)
	RenderFrame() (float32, float32)
	SetMasterGain(gain float64)
	// ActiveVoiceCount returns the number of voices still sounding (attack/decay/sustain/release).
	// Used to detect when playback has fully ended including release tails.
	ActiveVoiceCount() int
}

// EventKind identifies sequencer lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventPlaybackEnded
)

type Options struct {
	Loop              bool
	OnEvent           func(EventKind)
	ReleaseTailFrames int // extra frames to render after last voice ends (0 = use 0.5s default)
	Transpose         int // semitones added to every note
}

type timedEvent struct {
	frame int64
	ScoreEvent
}

const numKeys = 16 * 128

type Sequencer struct {
	engine            VoiceEngine
	sampleRate        int
	events            []timedEvent
	endFrame          int64
	frame             int64
	index             int
	held              [numKeys]int // engine voice id + 1, 0 when silent
	pan               [16]int
	loop              bool
	onEvent           func(EventKind)
	transpose         int
	releaseTailFrames int
	tailCountdown     int
	exhausted         bool // all events dispatched and notes released
	ended             bool
}

func New(score *Score, engine VoiceEngine, sampleRate int) *Sequencer {
	return NewWithOptions(score, engine, sampleRate, Options{})
}

func NewWithOptions(score *Score, engine VoiceEngine, sampleRate int, opts Options) *Sequencer {
	tailFrames := opts.ReleaseTailFrames
	if tailFrames <= 0 {
		tailFrames = sampleRate / 2
	}
	s := &Sequencer{
		engine:            engine,
		sampleRate:        sampleRate,
		loop:              opts.Loop,
		onEvent:           opts.OnEvent,
		transpose:         opts.Transpose,
		releaseTailFrames: tailFrames,
		tailCountdown:     tailFrames,
	}
	if score != nil {
		s.events = make([]timedEvent, len(score.Events))
		for i, ev := range score.Events {
			s.events[i] = timedEvent{frame: s.toFrame(ev.Micros), ScoreEvent: ev}
		}
		s.endFrame = s.toFrame(score.Length)
	}
	return s
}

func (s *Sequencer) toFrame(us int64) int64 {
	return (us*int64(s.sampleRate) + 500_000) / 1_000_000
}

// Frame is the current playback position in frames.
func (s *Sequencer) Frame() int64 { return s.frame }

// Ended reports whether non-looping playback has finished, tail included.
func (s *Sequencer) Ended() bool { return s.ended }

// Process renders interleaved stereo frames into dst.
func (s *Sequencer) Process(dst []float32) {
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		s.dispatch()
		l, r := s.engine.RenderFrame()
		dst[f*2] = l
		dst[f*2+1] = r
		s.frame++
		if s.exhausted && !s.ended && s.engine.ActiveVoiceCount() == 0 {
			if s.tailCountdown > 0 {
				s.tailCountdown--
				continue
			}
			if s.loop {
				s.rewind()
				if s.onEvent != nil {
					s.onEvent(EventLoopCompleted)
				}
				continue
			}
			s.ended = true
			if s.onEvent != nil {
				s.onEvent(EventPlaybackEnded)
			}
		}
	}
}

func (s *Sequencer) dispatch() {
	for s.index < len(s.events) && s.events[s.index].frame <= s.frame {
		s.apply(&s.events[s.index].ScoreEvent)
		s.index++
	}
	if !s.exhausted && s.index >= len(s.events) && s.frame >= s.endFrame {
		s.releaseAll()
		s.exhausted = true
	}
}

func (s *Sequencer) apply(ev *ScoreEvent) {
	ch := int(ev.Channel & 0x0F)
	slot := ch*128 + int(ev.Key&0x7F)
	switch ev.Kind {
	case ScoreNoteOn:
		if id := s.held[slot]; id != 0 {
			s.engine.NoteOff(id - 1)
		}
		note := clampInt(int(ev.Key)+s.transpose, 0, 127)
		s.held[slot] = s.engine.NoteOn(note, int(ev.Value), s.pan[ch]) + 1
	case ScoreNoteOff:
		if id := s.held[slot]; id != 0 {
			s.engine.NoteOff(id - 1)
			s.held[slot] = 0
		}
	case ScorePan:
		s.pan[ch] = clampInt(int(ev.Value)-64, -64, 64)
	}
}

func (s *Sequencer) releaseAll() {
	for i, id := range s.held {
		if id != 0 {
			s.engine.NoteOff(id - 1)
			s.held[i] = 0
		}
	}
}

func (s *Sequencer) rewind() {
	s.frame = 0
	s.index = 0
	s.exhausted = false
	s.tailCountdown = s.releaseTailFrames
	s.pan = [16]int{}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
