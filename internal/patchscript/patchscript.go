// Package patchscript configures a patch from a Lua script.
//
// A script edits a copy of a snapshot through a handful of global functions:
//
//	main(i, {morph = 12, range = 2, mode = "squarify", unison = 4})
//	sub(i, {wave = 1, keytrack = false, temposync = true, tempo = 128})
//	sample(i, {sample = 0, start = 0.1, loop = true})
//	filter(i, {type = "moog", cutoff = 800, input = "sub[0]"})
//	mod(i, {a = "sub[0]", b = "velocity", combine = "bimul", target = "main.morph[0]"})
//	macro(i, 0.5, {depth = 0.2, rate = 0.5, wave = "sine"})
//	global({oversample = 1, gain = 0.7, attack = 0.01, release = 0.4})
//
// Calling a slot function enables the slot unless the table says
// enabled = false. Unknown keys and wrongly typed values are script errors.
package patchscript

import (
	"context"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/cbegin/wtsynth-go/internal/lfo"
	"github.com/cbegin/wtsynth-go/internal/params"
)

// Result is the outcome of a script run.
type Result struct {
	Snapshot *params.Snapshot
	// LFOs holds the macro LFO settings the script configured, by macro index.
	LFOs map[int]lfo.Setting
}

// Run executes src against a copy of base. base is not modified.
func Run(ctx context.Context, base *params.Snapshot, name, src string) (*Result, error) {
	r, L := newRunner(ctx, base)
	defer L.Close()
	if err := L.DoString(src); err != nil {
		return nil, fmt.Errorf("patchscript %s: %w", name, err)
	}
	r.res.Snapshot.Sync()
	return r.res, nil
}

// RunFile executes the script at path.
func RunFile(ctx context.Context, base *params.Snapshot, path string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Run(ctx, base, path, string(src))
}

type runner struct {
	res *Result
}

func newRunner(ctx context.Context, base *params.Snapshot) (*runner, *lua.LState) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	if ctx != nil {
		L.SetContext(ctx)
	}
	if base == nil {
		base = params.Default()
	}
	r := &runner{res: &Result{Snapshot: base.Clone(), LFOs: map[int]lfo.Setting{}}}
	L.SetGlobal("main", L.NewFunction(r.main))
	L.SetGlobal("sub", L.NewFunction(r.sub))
	L.SetGlobal("sample", L.NewFunction(r.sample))
	L.SetGlobal("filter", L.NewFunction(r.filter))
	L.SetGlobal("mod", L.NewFunction(r.mod))
	L.SetGlobal("macro", L.NewFunction(r.macro))
	L.SetGlobal("global", L.NewFunction(r.global))
	return r, L
}

func checkSlot(L *lua.LState, n int) int {
	i := L.CheckInt(1)
	if i < 0 || i >= n {
		L.ArgError(1, fmt.Sprintf("slot %d out of range [0, %d)", i, n))
	}
	return i
}

func (r *runner) main(L *lua.LState) int {
	m := &r.res.Snapshot.Main[checkSlot(L, params.NumMain)]
	m.Enabled = true
	apply(L, 2, setters{
		"enabled":      flag(&m.Enabled),
		"mute":         flag(&m.Mute),
		"morph":        num(&m.Morph),
		"range":        num(&m.Range),
		"modify":       num(&m.Modify),
		"mode":         enum(&m.ModifyMode, params.ParseModifyMode),
		"detune":       num(&m.Detune),
		"phase":        num(&m.Phase),
		"phaserand":    num(&m.PhaseRand),
		"volume":       num(&m.Volume),
		"pan":          num(&m.Pan),
		"unison":       integer(&m.UnisonVoices),
		"unisondetune": num(&m.UnisonDetune),
		"unisonmorph":  num(&m.UnisonMorph),
		"unisonmodify": num(&m.UnisonModify),
		"unisonpan":    num(&m.UnisonPan),
		"addtail":      integer(&m.AddTail),
	})
	return 0
}

func (r *runner) sub(L *lua.LState) int {
	s := &r.res.Snapshot.Sub[checkSlot(L, params.NumSub)]
	s.Enabled = true
	apply(L, 2, setters{
		"enabled":   flag(&s.Enabled),
		"mute":      flag(&s.Mute),
		"wave":      integer(&s.Wave),
		"detune":    num(&s.Detune),
		"keytrack":  flag(&s.Keytrack),
		"temposync": flag(&s.TempoSync),
		"tempo":     num(&s.Tempo),
		"phase":     num(&s.Phase),
		"volume":    num(&s.Volume),
		"pan":       num(&s.Pan),
		"noise":     flag(&s.Noise),
		"ratelimit": num(&s.RateLimit),
	})
	return 0
}

func (r *runner) sample(L *lua.LState) int {
	s := &r.res.Snapshot.Sample[checkSlot(L, params.NumSample)]
	s.Enabled = true
	apply(L, 2, setters{
		"enabled":   flag(&s.Enabled),
		"mute":      flag(&s.Mute),
		"sample":    integer(&s.Sample),
		"start":     num(&s.Start),
		"end":       num(&s.End),
		"loop":      flag(&s.Loop),
		"graph":     flag(&s.UseGraph),
		"detune":    num(&s.Detune),
		"keytrack":  flag(&s.Keytrack),
		"phase":     num(&s.Phase),
		"phaserand": num(&s.PhaseRand),
		"volume":    num(&s.Volume),
		"pan":       num(&s.Pan),
	})
	return 0
}

func (r *runner) filter(L *lua.LState) int {
	f := &r.res.Snapshot.Filter[checkSlot(L, params.NumFilter)]
	f.Enabled = true
	apply(L, 2, setters{
		"enabled":    flag(&f.Enabled),
		"mute":       flag(&f.Mute),
		"type":       enum(&f.Type, params.ParseFilterType),
		"slope":      integer(&f.Slope),
		"cutoff":     num(&f.Cutoff),
		"resonance":  num(&f.Resonance),
		"gain":       num(&f.Gain),
		"saturation": num(&f.Saturation),
		"balance":    num(&f.Balance),
		"feedback":   num(&f.Feedback),
		"keytrack":   flag(&f.Keytrack),
		"detune":     num(&f.Detune),
		"pan":        num(&f.Pan),
		"input":      source(&f.Input),
	})
	return 0
}

func (r *runner) mod(L *lua.LState) int {
	m := &r.res.Snapshot.Mod[checkSlot(L, params.NumMod)]
	m.Enabled = true
	apply(L, 2, setters{
		"enabled": flag(&m.Enabled),
		"a":       source(&m.A),
		"b":       source(&m.B),
		"amounta": num(&m.AmountA),
		"amountb": num(&m.AmountB),
		"curvea":  num(&m.CurveA),
		"curveb":  num(&m.CurveB),
		"combine": enum(&m.Combine, params.ParseCombine),
		"target":  target(&m.Target),
	})
	return 0
}

// macro(i, value [, lfo])
func (r *runner) macro(L *lua.LState) int {
	i := checkSlot(L, params.NumMacro)
	r.res.Snapshot.Macro[i] = float64(L.CheckNumber(2))
	if L.GetTop() >= 3 {
		s := lfo.Setting{Waveform: lfo.WaveSine}
		apply(L, 3, setters{
			"depth": num(&s.Depth),
			"rate":  num(&s.RateHz),
			"wave":  enum(&s.Waveform, lfo.ParseWaveform),
		})
		r.res.LFOs[i] = s
	}
	return 0
}

func (r *runner) global(L *lua.LState) int {
	s := r.res.Snapshot
	apply(L, 1, setters{
		"oversample": integer(&s.Oversample),
		"gain":       num(&s.Gain),
		"attack":     num(&s.Attack),
		"decay":      num(&s.Decay),
		"sustain":    num(&s.Sustain),
		"release":    num(&s.Release),
	})
	return 0
}
