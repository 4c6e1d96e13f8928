package projection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lukasbauer/versecast/internal/detect"
)

// CommandType names an operator command.
type CommandType string

const (
	CmdProjectVerse   CommandType = "PROJECT_VERSE"
	CmdUpdateSettings CommandType = "UPDATE_SETTINGS"
	CmdHide           CommandType = "HIDE_PROJECTION"
	CmdShow           CommandType = "SHOW_PROJECTION"
	CmdClear          CommandType = "CLEAR_PROJECTION"
)

// aliases maps the lower-case variants older operator consoles send.
var aliases = map[string]CommandType{
	"project-verse":   CmdProjectVerse,
	"update-settings": CmdUpdateSettings,
}

// ErrUnknownCommand is returned for command types outside the protocol.
var ErrUnknownCommand = errors.New("unknown projection command")

// Command is one message on the projection channel.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseCommand decodes a command frame, resolving aliases and checking that
// the payload matches the type.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return c.normalize()
}

func (c Command) normalize() (Command, error) {
	if t, ok := aliases[string(c.Type)]; ok {
		c.Type = t
	}
	switch c.Type {
	case CmdProjectVerse:
		if _, err := c.Verse(); err != nil {
			return Command{}, err
		}
	case CmdUpdateSettings:
		p, err := c.SettingsPatch()
		if err != nil {
			return Command{}, err
		}
		if err := p.Validate(); err != nil {
			return Command{}, fmt.Errorf("invalid settings: %w", err)
		}
	case CmdHide, CmdShow, CmdClear:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
	return c, nil
}

// Verse decodes a PROJECT_VERSE payload.
func (c Command) Verse() (detect.VerseMatch, error) {
	var v detect.VerseMatch
	if len(c.Payload) == 0 {
		return v, errors.New("project verse: missing payload")
	}
	if err := json.Unmarshal(c.Payload, &v); err != nil {
		return v, fmt.Errorf("project verse: %w", err)
	}
	if v.Reference == "" || v.Text == "" {
		return v, errors.New("project verse: reference and text are required")
	}
	return v, nil
}

// SettingsPatch decodes an UPDATE_SETTINGS payload.
func (c Command) SettingsPatch() (SettingsPatch, error) {
	var p SettingsPatch
	if len(c.Payload) == 0 {
		return p, errors.New("update settings: missing payload")
	}
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, fmt.Errorf("update settings: %w", err)
	}
	return p, nil
}

// ProjectVerse builds a PROJECT_VERSE command.
func ProjectVerse(v detect.VerseMatch) Command {
	b, _ := json.Marshal(v)
	return Command{Type: CmdProjectVerse, Payload: b}
}

// UpdateSettings builds an UPDATE_SETTINGS command.
func UpdateSettings(p SettingsPatch) Command {
	b, _ := json.Marshal(p)
	return Command{Type: CmdUpdateSettings, Payload: b}
}
