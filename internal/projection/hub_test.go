package projection

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func nextFrame(t *testing.T, d *Display) Frame {
	t.Helper()
	select {
	case f, ok := <-d.Frames():
		if !ok {
			t.Fatal("frame stream closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestHub_AttachReceivesSnapshotAndUpdates(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubConfig{Clock: &manualClock{}, Logger: discardLogger()})
	defer h.Close()

	d, err := h.Attach(ctx, "user-1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if d.Initial.Verse != nil || d.Initial.Settings != DefaultSettings() {
		t.Errorf("initial frame = %+v", d.Initial)
	}

	if err := h.Publish(ctx, "user-1", ProjectVerse(verse("John 3:16"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	f := nextFrame(t, d)
	if verseRef(f) != "John 3:16" || f.Seq <= d.Initial.Seq {
		t.Errorf("frame = %+v", f)
	}

	late, err := h.Attach(ctx, "user-1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if verseRef(late.Initial) != "John 3:16" {
		t.Errorf("late display initial = %+v, want current verse", late.Initial)
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubConfig{Clock: &manualClock{}, Logger: discardLogger()})
	defer h.Close()

	a, _ := h.Attach(ctx, "user-a")
	b, _ := h.Attach(ctx, "user-b")

	if err := h.Publish(ctx, "user-a", Command{Type: CmdHide}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if f := nextFrame(t, a); f.Visible {
		t.Errorf("room a frame = %+v, want hidden", f)
	}
	select {
	case f := <-b.Frames():
		t.Errorf("room b received %+v", f)
	default:
	}
}

func TestHub_UsesRoomDefaults(t *testing.T) {
	ctx := context.Background()
	saved := DefaultSettings()
	saved.FontSize = 64
	h := NewHub(HubConfig{
		Clock:    &manualClock{},
		Logger:   discardLogger(),
		Defaults: func(context.Context, string) Settings { return saved },
	})
	defer h.Close()

	f, err := h.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if f.Settings.FontSize != 64 {
		t.Errorf("fontSize = %d, want 64", f.Settings.FontSize)
	}
}

func TestHub_PublishRejectsInvalidCommand(t *testing.T) {
	h := NewHub(HubConfig{Clock: &manualClock{}, Logger: discardLogger()})
	defer h.Close()

	err := h.Publish(context.Background(), "user-1", Command{Type: "SPIN"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestHub_DetachClosesStream(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubConfig{Clock: &manualClock{}, Logger: discardLogger()})
	defer h.Close()

	d, _ := h.Attach(ctx, "user-1")
	h.Detach(d)
	h.Detach(d)

	if _, ok := <-d.Frames(); ok {
		t.Error("frame stream should be closed after Detach")
	}
	if err := h.Publish(ctx, "user-1", Command{Type: CmdClear}); err != nil {
		t.Errorf("Publish after detach: %v", err)
	}
}

func TestHub_CloseRejectsNewWork(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubConfig{Clock: &manualClock{}, Logger: discardLogger()})
	d, _ := h.Attach(ctx, "user-1")

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-d.Frames(); ok {
		t.Error("frame stream should be closed after Close")
	}
	if _, err := h.Attach(ctx, "user-1"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Attach after Close = %v, want ErrHubClosed", err)
	}
	h.Detach(d)
}

func TestHub_SweepEvictsIdleRooms(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubConfig{Clock: &manualClock{}, Logger: discardLogger(), IdleTimeout: time.Minute})
	defer h.Close()
	now := time.Unix(1_700_000_000, 0)
	h.now = func() time.Time { return now }

	if _, err := h.Snapshot(ctx, "idle"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := h.Publish(ctx, "showing", ProjectVerse(verse("John 3:16"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, err := h.Attach(ctx, "watched")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if n := h.Sweep(); n != 0 {
		t.Errorf("Sweep() before timeout = %d, want 0", n)
	}

	now = now.Add(2 * time.Minute)
	if n := h.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	h.mu.Lock()
	_, idle := h.rooms["idle"]
	_, showing := h.rooms["showing"]
	_, watched := h.rooms["watched"]
	h.mu.Unlock()
	if idle || !showing || !watched {
		t.Errorf("rooms after sweep: idle=%v showing=%v watched=%v", idle, showing, watched)
	}

	h.Detach(d)
	if n := h.Sweep(); n != 1 {
		t.Errorf("Sweep() after detach = %d, want 1", n)
	}

	// An evicted room comes back on next use.
	d, err = h.Attach(ctx, "watched")
	if err != nil {
		t.Fatalf("Attach after eviction: %v", err)
	}
	if err := h.Publish(ctx, "watched", Command{Type: CmdHide}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if f := nextFrame(t, d); f.Visible {
		t.Errorf("frame = %+v, want hidden", f)
	}
}

func TestProjector_Idle(t *testing.T) {
	p := NewProjector(DefaultSettings(), &manualClock{}, nil)
	if !p.Idle() {
		t.Fatal("fresh projector should be idle")
	}
	_ = p.Apply(ProjectVerse(verse("John 3:16")))
	if p.Idle() {
		t.Error("projector showing a verse should not be idle")
	}
	_ = p.Apply(Command{Type: CmdClear})
	if !p.Idle() {
		t.Error("cleared projector should be idle")
	}
	_ = p.Apply(Command{Type: CmdHide})
	if p.Idle() {
		t.Error("hidden projector should not be idle")
	}
}
