package projection

import (
	"sync"
	"time"

	"github.com/lukasbauer/versecast/internal/detect"
)

// FadeDuration is how long the outgoing verse fades before the swap.
const FadeDuration = 200 * time.Millisecond

// Transition tells a display how to animate to a frame.
type Transition string

const (
	TransitionNone    Transition = "none"
	TransitionFadeOut Transition = "fade-out"
	TransitionFadeIn  Transition = "fade-in"
)

// Frame is the full display state sent to display sockets.
type Frame struct {
	Seq        uint64             `json:"seq"`
	Verse      *detect.VerseMatch `json:"verse"`
	Visible    bool               `json:"visible"`
	Transition Transition         `json:"transition"`
	Settings   Settings           `json:"settings"`
}

// Timer is the part of *time.Timer the projector needs.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Projector is the display state machine for one room. emit is called with
// the projector's lock held and must not block or call back into it.
type Projector struct {
	mu    sync.Mutex
	clock Clock
	emit  func(Frame)

	settings Settings
	initial  Settings
	verse    *detect.VerseMatch
	pending  *detect.VerseMatch
	hidden   bool
	fading   bool
	seq      uint64

	fadeTimer  Timer
	fadeGen    uint64
	clearTimer Timer
	clearGen   uint64
}

// NewProjector creates a projector. A nil clock uses the wall clock.
func NewProjector(settings Settings, clock Clock, emit func(Frame)) *Projector {
	if clock == nil {
		clock = realClock{}
	}
	if emit == nil {
		emit = func(Frame) {}
	}
	return &Projector{clock: clock, emit: emit, settings: settings, initial: settings}
}

// Apply validates and executes one command.
func (p *Projector) Apply(cmd Command) error {
	cmd, err := cmd.normalize()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.Type {
	case CmdProjectVerse:
		v, _ := cmd.Verse()
		p.project(&v)
	case CmdUpdateSettings:
		patch, _ := cmd.SettingsPatch()
		prevDuration := p.settings.DisplayDurationSeconds
		p.settings = p.settings.Apply(patch)
		if p.verse != nil && !p.fading && p.settings.DisplayDurationSeconds != prevDuration {
			p.restartClear()
		}
		p.publish(TransitionNone)
	case CmdHide:
		p.hidden = true
		p.publish(TransitionNone)
	case CmdShow:
		p.hidden = false
		p.publish(TransitionNone)
	case CmdClear:
		p.stopFade()
		p.stopClear()
		p.verse = nil
		p.pending = nil
		p.publish(TransitionNone)
	}
	return nil
}

// Snapshot returns the current frame without emitting it.
func (p *Projector) Snapshot() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame(TransitionNone)
}

// Idle reports whether the projector holds nothing a fresh projector with
// the same starting settings would not: no verse, no fade, not hidden.
func (p *Projector) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verse == nil && p.pending == nil && !p.fading && !p.hidden && p.settings == p.initial
}

// Close stops pending timers.
func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopFade()
	p.stopClear()
}

func (p *Projector) project(v *detect.VerseMatch) {
	if p.fading {
		// The newest selection wins; the fade already in progress carries it.
		p.pending = v
		return
	}
	if p.verse != nil && p.settings.FadeAnimation {
		p.stopClear()
		p.fading = true
		p.pending = v
		p.publish(TransitionFadeOut)
		p.fadeGen++
		gen := p.fadeGen
		p.fadeTimer = p.clock.AfterFunc(FadeDuration, func() { p.finishFade(gen) })
		return
	}
	p.swap(v)
}

func (p *Projector) finishFade(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.fadeGen || !p.fading {
		return
	}
	p.fading = false
	p.fadeTimer = nil
	v := p.pending
	p.pending = nil
	p.swap(v)
}

func (p *Projector) swap(v *detect.VerseMatch) {
	p.verse = v
	p.restartClear()
	if p.settings.FadeAnimation {
		p.publish(TransitionFadeIn)
		return
	}
	p.publish(TransitionNone)
}

func (p *Projector) restartClear() {
	p.stopClear()
	if p.settings.DisplayDurationSeconds <= 0 {
		return
	}
	gen := p.clearGen
	d := time.Duration(p.settings.DisplayDurationSeconds) * time.Second
	p.clearTimer = p.clock.AfterFunc(d, func() { p.autoClear(gen) })
}

func (p *Projector) autoClear(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.clearGen || p.verse == nil {
		return
	}
	p.clearTimer = nil
	p.verse = nil
	p.publish(TransitionNone)
}

// stopFade and stopClear bump the generation so a callback that already
// fired but is waiting on the lock becomes a no-op.
func (p *Projector) stopFade() {
	p.fadeGen++
	p.fading = false
	if p.fadeTimer != nil {
		p.fadeTimer.Stop()
		p.fadeTimer = nil
	}
}

func (p *Projector) stopClear() {
	p.clearGen++
	if p.clearTimer != nil {
		p.clearTimer.Stop()
		p.clearTimer = nil
	}
}

func (p *Projector) publish(t Transition) {
	p.seq++
	p.emit(p.frame(t))
}

func (p *Projector) frame(t Transition) Frame {
	f := Frame{
		Seq:        p.seq,
		Visible:    !p.hidden,
		Transition: t,
		Settings:   p.settings,
	}
	if p.verse != nil {
		v := *p.verse
		f.Verse = &v
	}
	return f
}
