// Package projection drives the verse display surface: display settings, the
// operator command protocol, the fade/auto-clear state machine and the
// pub/sub channel that carries commands to display sockets.
package projection

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Settings controls how a projected verse is rendered.
type Settings struct {
	FontSize               int    `json:"fontSize"`
	TextColor              string `json:"textColor"`
	BackgroundColor        string `json:"backgroundColor"`
	FontFamily             string `json:"fontFamily"`
	FontWeight             string `json:"fontWeight"`
	TextAlign              string `json:"textAlign"`
	Theme                  string `json:"theme"`
	BackgroundImage        string `json:"backgroundImage,omitempty"`
	TextShadow             bool   `json:"textShadow"`
	FadeAnimation          bool   `json:"fadeAnimation"`
	DisplayDurationSeconds int    `json:"displayDurationSeconds"`
}

// DefaultSettings returns the settings a new display starts with.
func DefaultSettings() Settings {
	return Settings{
		FontSize:               48,
		TextColor:              "#ffffff",
		BackgroundColor:        "#000000",
		FontFamily:             "Georgia, serif",
		FontWeight:             "normal",
		TextAlign:              "center",
		Theme:                  "dark",
		TextShadow:             true,
		FadeAnimation:          true,
		DisplayDurationSeconds: 30,
	}
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	FontSize               *int    `json:"fontSize,omitempty"`
	TextColor              *string `json:"textColor,omitempty"`
	BackgroundColor        *string `json:"backgroundColor,omitempty"`
	FontFamily             *string `json:"fontFamily,omitempty"`
	FontWeight             *string `json:"fontWeight,omitempty"`
	TextAlign              *string `json:"textAlign,omitempty"`
	Theme                  *string `json:"theme,omitempty"`
	BackgroundImage        *string `json:"backgroundImage,omitempty"`
	TextShadow             *bool   `json:"textShadow,omitempty"`
	FadeAnimation          *bool   `json:"fadeAnimation,omitempty"`
	DisplayDurationSeconds *int    `json:"displayDurationSeconds,omitempty"`
}

var (
	validAlign  = map[string]bool{"left": true, "center": true, "right": true, "justify": true}
	validTheme  = map[string]bool{"dark": true, "light": true, "custom": true}
	validWeight = map[string]bool{"normal": true, "bold": true, "lighter": true, "bolder": true}
)

// Validate rejects values a display cannot render.
func (p SettingsPatch) Validate() error {
	var errs []error
	if p.FontSize != nil && (*p.FontSize < 8 || *p.FontSize > 400) {
		errs = append(errs, fmt.Errorf("fontSize %d out of range [8,400]", *p.FontSize))
	}
	if p.DisplayDurationSeconds != nil && *p.DisplayDurationSeconds < 0 {
		errs = append(errs, errors.New("displayDurationSeconds must not be negative"))
	}
	if p.TextAlign != nil && !validAlign[*p.TextAlign] {
		errs = append(errs, fmt.Errorf("unsupported textAlign %q", *p.TextAlign))
	}
	if p.Theme != nil && !validTheme[*p.Theme] {
		errs = append(errs, fmt.Errorf("unsupported theme %q", *p.Theme))
	}
	if p.FontWeight != nil && !validWeight[*p.FontWeight] {
		errs = append(errs, fmt.Errorf("unsupported fontWeight %q", *p.FontWeight))
	}
	if p.TextColor != nil && *p.TextColor == "" {
		errs = append(errs, errors.New("textColor must not be empty"))
	}
	if p.BackgroundColor != nil && *p.BackgroundColor == "" {
		errs = append(errs, errors.New("backgroundColor must not be empty"))
	}
	return errors.Join(errs...)
}

// Apply returns s with every non-nil field of p applied.
func (s Settings) Apply(p SettingsPatch) Settings {
	if p.FontSize != nil {
		s.FontSize = *p.FontSize
	}
	if p.TextColor != nil {
		s.TextColor = *p.TextColor
	}
	if p.BackgroundColor != nil {
		s.BackgroundColor = *p.BackgroundColor
	}
	if p.FontFamily != nil {
		s.FontFamily = *p.FontFamily
	}
	if p.FontWeight != nil {
		s.FontWeight = *p.FontWeight
	}
	if p.TextAlign != nil {
		s.TextAlign = *p.TextAlign
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.BackgroundImage != nil {
		s.BackgroundImage = *p.BackgroundImage
	}
	if p.TextShadow != nil {
		s.TextShadow = *p.TextShadow
	}
	if p.FadeAnimation != nil {
		s.FadeAnimation = *p.FadeAnimation
	}
	if p.DisplayDurationSeconds != nil {
		s.DisplayDurationSeconds = *p.DisplayDurationSeconds
	}
	return s
}

// DecodeSettings reads stored settings JSON over the defaults. Missing
// fields keep their default values; an empty document yields the defaults.
func DecodeSettings(raw []byte) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}
	var p SettingsPatch
	if err := json.Unmarshal(raw, &p); err != nil {
		return s, fmt.Errorf("decode projection settings: %w", err)
	}
	return s.Apply(p), nil
}
