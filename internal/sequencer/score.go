package sequencer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const panController = 10

// ErrNoNotes is returned for a file that parses but contains no notes.
var ErrNoNotes = errors.New("sequencer: no notes in file")

type ScoreEventKind uint8

const (
	ScoreNoteOn ScoreEventKind = iota
	ScoreNoteOff
	ScorePan
)

// ScoreEvent is one timed channel event. For ScorePan, Value is the raw
// CC10 value.
type ScoreEvent struct {
	Micros  int64
	Kind    ScoreEventKind
	Channel uint8
	Key     uint8
	Value   uint8
}

// Score is a flattened, time-ordered list of note and pan events from all
// tracks of a Standard MIDI File.
type Score struct {
	Events []ScoreEvent
	Length int64 // microseconds, time of the last event
}

// LoadSMF parses a Standard MIDI File. Tempo changes are resolved into
// absolute microsecond times.
func LoadSMF(r io.Reader) (*Score, error) {
	sc := &Score{}
	err := smf.ReadTracksFrom(r).Do(func(te smf.TrackEvent) {
		var ch, key, vel, ctl, val uint8
		msg := midi.Message(te.Message)
		ev := ScoreEvent{Micros: te.AbsMicroSeconds}
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			ev.Kind, ev.Channel, ev.Key, ev.Value = ScoreNoteOn, ch, key, vel
		case msg.GetNoteEnd(&ch, &key):
			ev.Kind, ev.Channel, ev.Key = ScoreNoteOff, ch, key
		case msg.GetControlChange(&ch, &ctl, &val) && ctl == panController:
			ev.Kind, ev.Channel, ev.Value = ScorePan, ch, val
		default:
			return
		}
		sc.Events = append(sc.Events, ev)
	}).Error()
	if err != nil {
		return nil, fmt.Errorf("read smf: %w", err)
	}
	hasNote := false
	for _, ev := range sc.Events {
		if ev.Kind == ScoreNoteOn {
			hasNote = true
			break
		}
	}
	if !hasNote {
		return nil, ErrNoNotes
	}
	// Stable so same-time events keep file order; offs sort before ons at
	// the same instant to allow back-to-back notes on one key.
	slices.SortStableFunc(sc.Events, func(a, b ScoreEvent) int {
		if a.Micros != b.Micros {
			if a.Micros < b.Micros {
				return -1
			}
			return 1
		}
		return rank(a.Kind) - rank(b.Kind)
	})
	sc.Length = sc.Events[len(sc.Events)-1].Micros
	return sc, nil
}

func rank(k ScoreEventKind) int {
	switch k {
	case ScoreNoteOff:
		return 0
	case ScorePan:
		return 1
	default:
		return 2
	}
}

// LoadSMFFile reads a Standard MIDI File from disk.
func LoadSMFFile(path string) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := LoadSMF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}
