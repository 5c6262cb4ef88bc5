package models

// MaxOnboardingStep is the step value that marks onboarding as finished.
const MaxOnboardingStep = 7

// TokenPair groups the bearer credentials issued by the Lomi API.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are present.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// UserRecord is the server-confirmed profile summary cached on the device.
// Routing decisions read HasProfile and OnboardingStep from here.
type UserRecord struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Username            string `json:"username,omitempty"`
	HasProfile          bool   `json:"has_profile"`
	OnboardingStep      int    `json:"onboarding_step"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
	IsPremium           bool   `json:"is_premium,omitempty"`
	Coins               int64  `json:"coins,omitempty"`
}

// Session is the authenticated identity of the device. A Session value only
// exists while logged in, so tokens and user are always present together.
type Session struct {
	Tokens TokenPair  `json:"tokens"`
	User   UserRecord `json:"user"`
}

// AuthResult is the payload returned by every credential exchange.
type AuthResult struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         UserRecord `json:"user"`
}

// Tokens returns the token pair carried by the exchange result.
func (r AuthResult) Tokens() TokenPair {
	return TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// OnboardingProgress mirrors the server's view of the onboarding sequence.
// Progress is advisory and never used for routing.
type OnboardingProgress struct {
	Step      int     `json:"onboarding_step"`
	Completed bool    `json:"onboarding_completed"`
	Progress  float64 `json:"progress"`
}

// Valid reports whether the step lies inside the fixed sequence.
func (p OnboardingProgress) Valid() bool {
	return p.Step >= 0 && p.Step <= MaxOnboardingStep
}

// WidgetCredential is the signed payload produced by the Telegram login widget.
// The hash is verified by the server; the client only forwards it.
type WidgetCredential struct {
	ID        int64  `json:"id" validate:"required"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date" validate:"required"`
	Hash      string `json:"hash" validate:"required"`
}
