// Package steps maps onboarding step numbers to screens.
package steps

// Screen identifies an onboarding screen.
type Screen string

const (
	ScreenName             Screen = "Name"
	ScreenGender           Screen = "Gender"
	ScreenGenderPreference Screen = "GenderPreference"
	ScreenBirthday         Screen = "Birthday"
	ScreenPhotos           Screen = "Photos"
	ScreenInterests        Screen = "Interests"
	ScreenBio              Screen = "Bio"
	ScreenComplete         Screen = "Complete"
)

// table is indexed by onboarding step.
var table = [...]Screen{
	ScreenName,
	ScreenGender,
	ScreenGenderPreference,
	ScreenBirthday,
	ScreenPhotos,
	ScreenInterests,
	ScreenBio,
	ScreenComplete,
}

var index = func() map[Screen]int {
	m := make(map[Screen]int, len(table))
	for step, screen := range table {
		m[screen] = step
	}
	return m
}()

// Router resolves resume points. The zero value is ready to use.
type Router struct{}

// InitialScreenFor returns the screen for step, or the first screen when step
// is outside the table.
func (Router) InitialScreenFor(step int) Screen {
	return InitialScreenFor(step)
}

// InitialScreenFor returns the screen for step, or the first screen when step
// is outside the table.
func InitialScreenFor(step int) Screen {
	if step < 0 || step >= len(table) {
		return table[0]
	}
	return table[step]
}

// Sequence returns the screens in forward order.
func Sequence() []Screen {
	out := make([]Screen, len(table))
	copy(out, table[:])
	return out
}

// StepFor returns the step number shown by screen.
func StepFor(screen Screen) (int, bool) {
	step, ok := index[screen]
	return step, ok
}

// Next returns the screen after screen. It reports false for the last screen
// and for unknown screens.
func Next(screen Screen) (Screen, bool) {
	step, ok := index[screen]
	if !ok || step+1 >= len(table) {
		return "", false
	}
	return table[step+1], true
}
