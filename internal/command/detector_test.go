package command

import "testing"

func TestDetector_TriggerThenBoundaryCapturesTitle(t *testing.T) {
	d := NewDetector(Config{})

	dets := d.Feed("start new note my shopping list")
	if len(dets) != 1 || dets[0].Kind != TriggerHeard {
		t.Fatalf("expected trigger detection, got %v", dets)
	}
	if !d.Capturing() {
		t.Fatal("detector should be capturing after trigger")
	}

	det, ok := d.Boundary()
	if !ok || det.Kind != TitleCaptured {
		t.Fatalf("expected title on boundary, got %v ok=%v", det, ok)
	}
	if det.Title != "my shopping list" {
		t.Fatalf("unexpected title %q", det.Title)
	}
	if d.Capturing() {
		t.Fatal("detector should reset after title")
	}
}

func TestDetector_StopPhraseEndsCapture(t *testing.T) {
	d := NewDetector(Config{Trigger: "start new note", Stop: "end note"})

	d.Feed("ok so start new note")
	dets := d.Feed("groceries for the week end note and then more talk")
	if len(dets) != 1 || dets[0].Kind != TitleCaptured {
		t.Fatalf("expected one title detection, got %v", dets)
	}
	if dets[0].Title != "groceries for the week" {
		t.Fatalf("unexpected title %q", dets[0].Title)
	}
}

func TestDetector_PhraseStraddlesTextEvents(t *testing.T) {
	d := NewDetector(Config{})

	if dets := d.Feed("start new"); len(dets) != 0 {
		t.Fatalf("incomplete trigger must not fire, got %v", dets)
	}
	dets := d.Feed("note weekly standup")
	if len(dets) != 1 || dets[0].Kind != TriggerHeard {
		t.Fatalf("trigger should complete across events, got %v", dets)
	}
	det, ok := d.Boundary()
	if !ok || det.Title != "weekly standup" {
		t.Fatalf("unexpected title %v ok=%v", det, ok)
	}
}

func TestDetector_TriggerDuringCaptureIsTitleText(t *testing.T) {
	d := NewDetector(Config{})

	d.Feed("start new note")
	d.Feed("start new note ideas")
	det, ok := d.Boundary()
	if !ok {
		t.Fatal("expected title")
	}
	if det.Title != "start new note ideas" {
		t.Fatalf("repeated trigger should be title text, got %q", det.Title)
	}
}

func TestDetector_PunctuationAndCaseIgnored(t *testing.T) {
	d := NewDetector(Config{})

	dets := d.Feed("Start new note: Q3 Budget, end NOTE.")
	if len(dets) != 2 {
		t.Fatalf("expected trigger and title, got %v", dets)
	}
	if dets[1].Title != "q3 budget" {
		t.Fatalf("unexpected title %q", dets[1].Title)
	}
}

func TestDetector_EmptyTitleResetsSilently(t *testing.T) {
	d := NewDetector(Config{})

	d.Feed("start new note")
	if _, ok := d.Boundary(); ok {
		t.Fatal("empty title should not emit a detection")
	}
	if d.Capturing() {
		t.Fatal("detector should reset")
	}
}

func TestDetector_NoTriggerNoDetection(t *testing.T) {
	d := NewDetector(Config{})

	if dets := d.Feed("just talking about starting a new notebook"); len(dets) != 0 {
		t.Fatalf("unexpected detections %v", dets)
	}
	if _, ok := d.Boundary(); ok {
		t.Fatal("boundary without capture should be a no-op")
	}
}
