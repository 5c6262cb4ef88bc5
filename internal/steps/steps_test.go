package steps

import (
	"math"
	"testing"
)

func TestInitialScreenForTable(t *testing.T) {
	want := []Screen{
		ScreenName, ScreenGender, ScreenGenderPreference, ScreenBirthday,
		ScreenPhotos, ScreenInterests, ScreenBio, ScreenComplete,
	}
	for step, screen := range want {
		if got := InitialScreenFor(step); got != screen {
			t.Fatalf("step %d: expected %s got %s", step, screen, got)
		}
	}
}

func TestInitialScreenForFallsBack(t *testing.T) {
	for _, step := range []int{-1, -100, 8, 42, math.MaxInt, math.MinInt} {
		if got := InitialScreenFor(step); got != ScreenName {
			t.Fatalf("step %d: expected fallback to %s got %q", step, ScreenName, got)
		}
	}
}

func TestRouterMatchesPackageFunc(t *testing.T) {
	var r Router
	if r.InitialScreenFor(2) != ScreenGenderPreference {
		t.Fatalf("expected GenderPreference got %s", r.InitialScreenFor(2))
	}
}

func TestNextWalksSequence(t *testing.T) {
	seq := Sequence()
	for i := 0; i < len(seq)-1; i++ {
		next, ok := Next(seq[i])
		if !ok || next != seq[i+1] {
			t.Fatalf("after %s expected %s got %s (%v)", seq[i], seq[i+1], next, ok)
		}
	}
	if _, ok := Next(ScreenComplete); ok {
		t.Fatal("expected no screen after Complete")
	}
	if _, ok := Next(Screen("Swipe")); ok {
		t.Fatal("expected unknown screen to have no successor")
	}
}

func TestStepFor(t *testing.T) {
	for step, screen := range Sequence() {
		got, ok := StepFor(screen)
		if !ok || got != step {
			t.Fatalf("%s: expected step %d got %d (%v)", screen, step, got, ok)
		}
	}
	if _, ok := StepFor(Screen("Chat")); ok {
		t.Fatal("expected unknown screen to report false")
	}
}

func TestSequenceIsACopy(t *testing.T) {
	seq := Sequence()
	seq[0] = "mutated"
	if InitialScreenFor(0) != ScreenName {
		t.Fatal("mutating Sequence() result must not change the table")
	}
}
