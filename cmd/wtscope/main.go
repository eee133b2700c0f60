// Command wtscope plays a MIDI file or the computer keyboard through the
// wavetable instrument and draws its output as a waveform and spectrum.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"log/slog"
	"math"
	"math/cmplx"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/cbegin/wtsynth-go"
	"github.com/cbegin/wtsynth-go/internal/scope"
)

const (
	windowW  = 960
	windowH  = 540
	fftSize  = 1024
	decimate = 4 // matches synth.DefaultParams().ScopeDecimate
)

var (
	bgColor      = color.RGBA{14, 16, 22, 255}
	centerColor  = color.RGBA{40, 44, 58, 100}
	dividerColor = color.RGBA{50, 54, 68, 180}
	waveColor    = color.RGBA{80, 200, 255, 220}
)

// keys maps the bottom keyboard row to a C major scale from middle C.
var keys = []struct {
	key  ebiten.Key
	note int
}{
	{ebiten.KeyZ, 60}, {ebiten.KeyX, 62}, {ebiten.KeyC, 64}, {ebiten.KeyV, 65},
	{ebiten.KeyB, 67}, {ebiten.KeyN, 69}, {ebiten.KeyM, 71}, {ebiten.KeyComma, 72},
}

type game struct {
	player   *wtsynth.Player
	events   <-chan wtsynth.PlaybackEvent
	ring     *scope.Ring
	rate     int
	held     map[ebiten.Key]int
	samples  []float32
	specBins []float64
	wavePeak float64
	status   string
}

func (g *game) Update() error {
	select {
	case ev := <-g.events:
		if ev.Kind == wtsynth.EventPlaybackEnded {
			g.status = "playback ended, keys Z.., play live"
			if err := g.player.Live(); err != nil {
				return err
			}
		}
	default:
	}
	for _, k := range keys {
		if inpututil.IsKeyJustPressed(k.key) {
			id, err := g.player.NoteOn(k.note, 100, 0)
			if err != nil {
				g.status = err.Error()
				continue
			}
			g.held[k.key] = id
		}
		if inpututil.IsKeyJustReleased(k.key) {
			if id, ok := g.held[k.key]; ok {
				_ = g.player.NoteOff(id)
				delete(g.held, k.key)
			}
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) {
		g.player.SetTranspose(g.player.Transpose() + 1)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) {
		g.player.SetTranspose(g.player.Transpose() - 1)
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	n := g.ring.Snapshot(g.samples)
	samples := g.samples[:n]
	w, h := screen.Bounds().Dx(), screen.Bounds().Dy()
	waveH := int(float64(h) * 0.45)
	g.drawWaveform(screen, samples, w, waveH)
	ebitenutil.DrawRect(screen, 0, float64(waveH), float64(w), 1, dividerColor)
	g.drawSpectrumBars(screen, samples, w, h-waveH-1, waveH+1)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%s  voices %d  octave %+d",
		g.status, g.player.Instrument().ActiveVoiceCount(), g.player.Transpose()), 8, 4)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) { return outsideW, outsideH }

func (g *game) drawWaveform(dst *ebiten.Image, samples []float32, width, height int) {
	if len(samples) < 2 || width < 2 || height < 4 {
		return
	}
	midY := height / 2
	ebitenutil.DrawRect(dst, 0, float64(midY), float64(width), 1, centerColor)

	// Fast attack, slow release auto-gain.
	peak := 0.01
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak > g.wavePeak {
		g.wavePeak = g.wavePeak*0.3 + peak*0.7
	} else {
		g.wavePeak = g.wavePeak*0.995 + peak*0.005
	}
	gain := float64(midY-2) / math.Max(g.wavePeak, 0.01)

	start := risingZero(samples, len(samples)/4)
	visible := max(2, len(samples)-start)
	prevY := midY - int(float64(samples[start])*gain)
	for px := 1; px < width; px++ {
		si := min(start+px*visible/width, len(samples)-1)
		y := midY - int(float64(samples[si])*gain)
		ebitenutil.DrawLine(dst, float64(px-1), float64(prevY), float64(px), float64(y), waveColor)
		prevY = y
	}
}

func risingZero(samples []float32, searchLen int) int {
	searchLen = min(searchLen, len(samples)-2)
	for i := 1; i < searchLen; i++ {
		if samples[i-1] <= 0 && samples[i] > 0 {
			return i
		}
	}
	return 0
}

func (g *game) drawSpectrumBars(dst *ebiten.Image, samples []float32, width, height, yOffset int) {
	if len(samples) < fftSize || width < 4 || height < 4 {
		return
	}
	x := make([]float64, fftSize)
	for i := range x {
		x[i] = float64(samples[len(samples)-fftSize+i])
	}
	window.Apply(x, window.Hann)
	spec := fft.FFTReal(x)

	numBars := min(max(width/3, 16), 256)
	if len(g.specBins) != numBars {
		g.specBins = make([]float64, numBars)
	}
	// The ring holds decimated samples.
	nyquist := float64(g.rate/decimate) / 2
	half := fftSize / 2
	maxBin := min(half, int(float64(half)*math.Min(18000, nyquist)/nyquist))
	logMin, logMax := 0.0, math.Log(float64(maxBin))
	for i := range numBars {
		b0 := int(math.Exp(logMin + float64(i)/float64(numBars)*(logMax-logMin)))
		b1 := int(math.Exp(logMin + float64(i+1)/float64(numBars)*(logMax-logMin)))
		b1 = min(max(b1, b0+1), half)
		sum := 0.0
		for b := b0; b < b1; b++ {
			sum += cmplx.Abs(spec[b])
		}
		db := 20 * math.Log10(sum/float64(b1-b0)/fftSize+1e-10)
		norm := math.Max(0, math.Min(1, (db+80)/80))
		if prev := g.specBins[i]; norm > prev {
			g.specBins[i] = prev*0.3 + norm*0.7
		} else {
			g.specBins[i] = prev*0.85 + norm*0.15
		}
	}

	barW := float64(width) / float64(numBars)
	for i, v := range g.specBins {
		barH := math.Max(1, v*float64(height-4))
		y := float64(yOffset) + float64(height-2) - barH
		r, gr, b := spectrumColor(v)
		ebitenutil.DrawRect(dst, float64(i)*barW+1, y, barW-1, barH, color.RGBA{r, gr, b, 220})
	}
}

// spectrumColor runs blue to green to orange as v rises.
func spectrumColor(v float64) (uint8, uint8, uint8) {
	if v < 0.33 {
		t := v / 0.33
		return uint8(30 + 20*t), uint8(80 + 120*t), uint8(200 + 55*t)
	}
	if v < 0.66 {
		t := (v - 0.33) / 0.33
		return uint8(50 + 140*t), uint8(200 + 30*t), uint8(255 - 100*t)
	}
	t := (v - 0.66) / 0.34
	return uint8(190 + 65*t), uint8(230 - 100*t), uint8(155 - 100*t)
}

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		patchPath  = flag.String("patch", "", "Lua patch script")
	)
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ring := scope.New(4 * fftSize)
	pl, err := wtsynth.NewPlayer(*sampleRate, wtsynth.WithLogger(logger), wtsynth.WithScope(ring))
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Stop()
	if *patchPath != "" {
		if err := pl.LoadPatchScript(context.Background(), *patchPath); err != nil {
			log.Fatal(err)
		}
	}
	g := &game{
		player:  pl,
		events:  pl.Watch(),
		ring:    ring,
		rate:    *sampleRate,
		held:    make(map[ebiten.Key]int),
		samples: make([]float32, ring.Len()),
		status:  "keys Z..comma play, up/down shift octave",
	}
	if path := flag.Arg(0); path != "" {
		if err := pl.PlayMIDIFile(path); err != nil {
			log.Fatal(err)
		}
		g.status = "playing " + path
	} else if err := pl.Live(); err != nil {
		log.Fatal(err)
	}

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle("wtsynth scope")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
