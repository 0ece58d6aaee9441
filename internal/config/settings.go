package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// VADMode selects the voice activity strategy. The four webrtc modes map to
// the engine's aggressiveness levels; energy forces the threshold fallback.
type VADMode string

const (
	VADQuality        VADMode = "quality"
	VADLowBitrate     VADMode = "low_bitrate"
	VADAggressive     VADMode = "aggressive"
	VADVeryAggressive VADMode = "very_aggressive"
	VADEnergy         VADMode = "energy"
)

// Aggressiveness returns the webrtc VAD mode number (0-3), or -1 for energy.
func (m VADMode) Aggressiveness() int {
	switch m {
	case VADQuality:
		return 0
	case VADLowBitrate:
		return 1
	case VADAggressive:
		return 2
	case VADVeryAggressive:
		return 3
	default:
		return -1
	}
}

// Settings is the immutable dictation snapshot shared by the pipeline actors.
type Settings struct {
	ModelPath             string   `yaml:"model_path"`
	EnableDenoise         bool     `yaml:"enable_denoise"`
	EnableVAD             bool     `yaml:"enable_vad"`
	VADMode               VADMode  `yaml:"vad_mode"`
	VADEnergyThreshold    float32  `yaml:"vad_energy_threshold"`
	VADTimeoutMS          int      `yaml:"vad_timeout_ms"`
	SilenceThresholdMS    int      `yaml:"silence_threshold_ms"`
	EnableKeyboardOutput  bool     `yaml:"enable_keyboard_output"`
	KeyboardOutputDelayMS int      `yaml:"keyboard_output_delay_ms"`
	Commands              Commands `yaml:"commands"`
}

func DefaultSettings() Settings {
	return Settings{
		EnableDenoise:         true,
		EnableVAD:             true,
		VADMode:               VADQuality,
		VADEnergyThreshold:    0.01,
		VADTimeoutMS:          250,
		SilenceThresholdMS:    1000,
		EnableKeyboardOutput:  false,
		KeyboardOutputDelayMS: 500,
	}
}

func (s Settings) SilenceThreshold() time.Duration {
	return time.Duration(s.SilenceThresholdMS) * time.Millisecond
}

func (s Settings) KeyboardOutputDelay() time.Duration {
	return time.Duration(s.KeyboardOutputDelayMS) * time.Millisecond
}

func (s Settings) VADTimeout() time.Duration {
	return time.Duration(s.VADTimeoutMS) * time.Millisecond
}

func (s Settings) Validate() error {
	switch s.VADMode {
	case VADQuality, VADLowBitrate, VADAggressive, VADVeryAggressive, VADEnergy:
	default:
		return fmt.Errorf("vad_mode %q must be one of quality|low_bitrate|aggressive|very_aggressive|energy", s.VADMode)
	}
	if s.VADEnergyThreshold < 0 || s.VADEnergyThreshold > 1 {
		return errors.New("vad_energy_threshold must be between 0 and 1")
	}
	if s.VADTimeoutMS <= 0 {
		return errors.New("vad_timeout_ms must be positive")
	}
	if s.SilenceThresholdMS < 0 {
		return errors.New("silence_threshold_ms must be >= 0")
	}
	if s.KeyboardOutputDelayMS < 0 {
		return errors.New("keyboard_output_delay_ms must be >= 0")
	}
	seen := make(map[string]struct{}, len(s.Commands))
	for _, cmd := range s.Commands {
		if strings.TrimSpace(cmd.Trigger) == "" {
			return errors.New("command trigger must not be empty")
		}
		if _, dup := seen[cmd.Trigger]; dup {
			return fmt.Errorf("duplicate command trigger %q", cmd.Trigger)
		}
		seen[cmd.Trigger] = struct{}{}
	}
	return nil
}

// ActionKind tags a CommandAction.
type ActionKind string

const (
	ActionType ActionKind = "type"
	ActionExec ActionKind = "exec"
)

// CommandAction is what a trigger does. Template may contain a single {args}
// placeholder.
type CommandAction struct {
	Kind     ActionKind
	Template string
}

func TypeAction(template string) CommandAction {
	return CommandAction{Kind: ActionType, Template: template}
}

func ExecAction(template string) CommandAction {
	return CommandAction{Kind: ActionExec, Template: template}
}

// UnmarshalYAML accepts a one-entry mapping such as {exec: "firefox {args}"}.
func (a *CommandAction) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: command action must be a mapping: %w", value.Line, err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("line %d: command action must have exactly one of type|exec", value.Line)
	}
	for key, template := range raw {
		switch ActionKind(strings.ToLower(key)) {
		case ActionType:
			*a = TypeAction(template)
		case ActionExec:
			*a = ExecAction(template)
		default:
			return fmt.Errorf("line %d: unknown command action %q", value.Line, key)
		}
	}
	return nil
}

func (a CommandAction) MarshalYAML() (interface{}, error) {
	return map[string]string{string(a.Kind): a.Template}, nil
}

// Command binds a trigger pattern to an action.
type Command struct {
	Trigger string
	Action  CommandAction
}

// Commands keeps the order triggers appear in the config file, which decides
// which trigger wins when several match.
type Commands []Command

func (c *Commands) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: commands must be a mapping of trigger to action", value.Line)
	}
	out := make(Commands, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var action CommandAction
		if err := val.Decode(&action); err != nil {
			return fmt.Errorf("command %q: %w", key.Value, err)
		}
		out = append(out, Command{Trigger: key.Value, Action: action})
	}
	*c = out
	return nil
}

func (c Commands) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, cmd := range c {
		var val yaml.Node
		if err := val.Encode(cmd.Action); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: cmd.Trigger},
			&val,
		)
	}
	return node, nil
}
