package sequencer

import (
	"bytes"
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

type countingEngine struct {
	noteOns  []int
	noteOffs []int
	pans     []int
	nextID   int
	active   map[int]bool
}

func (e *countingEngine) NoteOn(note int, velocity int, pan int) int {
	if e.active == nil {
		e.active = map[int]bool{}
	}
	e.noteOns = append(e.noteOns, note)
	e.pans = append(e.pans, pan)
	id := e.nextID
	e.nextID++
	e.active[id] = true
	return id
}
func (e *countingEngine) NoteOff(id int) {
	e.noteOffs = append(e.noteOffs, id)
	delete(e.active, id)
}
func (e *countingEngine) RenderFrame() (float32, float32) { return 0, 0 }
func (e *countingEngine) SetMasterGain(gain float64)      {}
func (e *countingEngine) ActiveVoiceCount() int           { return len(e.active) }

type note struct {
	delta uint32 // ticks since previous message
	key   uint8
	dur   uint32
}

// buildSMF writes a single-track file at 96 ticks per quarter and 120 BPM,
// so one tick is 1/192 s.
func buildSMF(t testing.TB, pan int, notes ...note) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	if pan >= 0 {
		tr.Add(0, midi.ControlChange(0, panController, uint8(pan)))
	}
	for _, n := range notes {
		tr.Add(n.delta, midi.NoteOn(0, n.key, 100))
		tr.Add(n.dur, midi.NoteOff(0, n.key))
	}
	tr.Close(0)
	if err := s.Add(tr); err != nil {
		t.Fatalf("add track: %v", err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	return buf.Bytes()
}

func loadScore(t testing.TB, data []byte) *Score {
	t.Helper()
	sc, err := LoadSMF(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("LoadSMF: %v", err)
	}
	return sc
}

func TestLoadSMFTiming(t *testing.T) {
	sc := loadScore(t, buildSMF(t, -1,
		note{delta: 0, key: 60, dur: 96},
		note{delta: 96, key: 64, dur: 48},
	))
	want := []struct {
		kind   ScoreEventKind
		key    uint8
		micros int64
	}{
		{ScoreNoteOn, 60, 0},
		{ScoreNoteOff, 60, 500_000},
		{ScoreNoteOn, 64, 1_000_000},
		{ScoreNoteOff, 64, 1_250_000},
	}
	if len(sc.Events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(sc.Events), len(want), sc.Events)
	}
	for i, w := range want {
		ev := sc.Events[i]
		if ev.Kind != w.kind || ev.Key != w.key || abs64(ev.Micros-w.micros) > 1 {
			t.Fatalf("event %d = %+v, want %+v", i, ev, w)
		}
	}
	if abs64(sc.Length-1_250_000) > 1 {
		t.Fatalf("length = %d", sc.Length)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestLoadSMFRejectsEmpty(t *testing.T) {
	if _, err := LoadSMF(bytes.NewReader(buildSMF(t, -1))); !errors.Is(err, ErrNoNotes) {
		t.Fatalf("err = %v, want ErrNoNotes", err)
	}
	if _, err := LoadSMF(bytes.NewReader([]byte("not a midi file"))); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestBackToBackNotesOnOneKey(t *testing.T) {
	sc := loadScore(t, buildSMF(t, -1,
		note{delta: 0, key: 60, dur: 48},
		note{delta: 0, key: 60, dur: 48},
	))
	engine := &countingEngine{}
	seq := New(sc, engine, 48000)
	seq.Process(make([]float32, 48000*2))
	if len(engine.noteOns) != 2 || len(engine.noteOffs) != 2 {
		t.Fatalf("ons %v offs %v", engine.noteOns, engine.noteOffs)
	}
	if engine.noteOffs[0] != 0 || engine.noteOffs[1] != 1 {
		t.Fatalf("offs released the wrong voices: %v", engine.noteOffs)
	}
}

func TestNoteFramesAndPlaybackEnd(t *testing.T) {
	sc := loadScore(t, buildSMF(t, -1, note{delta: 96, key: 69, dur: 96}))
	engine := &countingEngine{}
	var events []EventKind
	seq := NewWithOptions(sc, engine, 48000, Options{
		ReleaseTailFrames: 100,
		OnEvent:           func(k EventKind) { events = append(events, k) },
	})
	// Note starts at 0.5 s = frame 24000.
	seq.Process(make([]float32, 2*24000))
	if len(engine.noteOns) != 0 {
		t.Fatal("note started early")
	}
	seq.Process(make([]float32, 2))
	if len(engine.noteOns) != 1 {
		t.Fatal("note did not start at its frame")
	}
	seq.Process(make([]float32, 2*24000))
	if len(engine.noteOffs) != 1 {
		t.Fatalf("note not released: %v", engine.noteOffs)
	}
	seq.Process(make([]float32, 2*200))
	if !seq.Ended() || len(events) != 1 || events[0] != EventPlaybackEnded {
		t.Fatalf("ended=%v events=%v", seq.Ended(), events)
	}
}

func TestSequencerLoops(t *testing.T) {
	sc := loadScore(t, buildSMF(t, -1, note{delta: 0, key: 60, dur: 48}))
	engine := &countingEngine{}
	loops := 0
	seq := NewWithOptions(sc, engine, 48000, Options{
		Loop:              true,
		ReleaseTailFrames: 10,
		OnEvent: func(k EventKind) {
			if k == EventLoopCompleted {
				loops++
			}
		},
	})
	// Each pass is 0.25 s of note plus a short tail.
	seq.Process(make([]float32, 48000*2*2))
	if len(engine.noteOns) < 4 || loops < 3 {
		t.Fatalf("expected loop retriggers, got %d note-ons, %d loops", len(engine.noteOns), loops)
	}
	if seq.Ended() {
		t.Fatal("looping playback reported end")
	}
}

func TestPanAndTranspose(t *testing.T) {
	sc := loadScore(t, buildSMF(t, 127, note{delta: 0, key: 60, dur: 10}))
	engine := &countingEngine{}
	seq := NewWithOptions(sc, engine, 48000, Options{Transpose: -12})
	seq.Process(make([]float32, 2*100))
	if len(engine.noteOns) != 1 || engine.noteOns[0] != 48 {
		t.Fatalf("transposed notes = %v", engine.noteOns)
	}
	if engine.pans[0] != 63 {
		t.Fatalf("pan = %d, want 63", engine.pans[0])
	}
}

func TestNilScoreEndsImmediately(t *testing.T) {
	engine := &countingEngine{}
	ended := false
	seq := NewWithOptions(nil, engine, 48000, Options{
		ReleaseTailFrames: 1,
		OnEvent:           func(k EventKind) { ended = k == EventPlaybackEnded },
	})
	seq.Process(make([]float32, 2*4))
	if !ended {
		t.Fatal("empty sequencer never ended")
	}
}
