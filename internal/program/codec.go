package program

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/PlotGo/internal/logic/geometry"
)

// ErrUnknownOp is returned when decoding an unrecognised op name.
var ErrUnknownOp = errors.New("unknown op")

// record is the serialised form of an instruction. In YAML and JSON an
// instruction is either a bare op name ("up") or an object with an "op"
// key and its arguments.
type record struct {
	Op    string    `yaml:"op" json:"op"`
	To    []float64 `yaml:"to,omitempty,flow" json:"to,omitempty"`
	Speed float64   `yaml:"speed,omitempty" json:"speed,omitempty"`
	Delay *int      `yaml:"delay,omitempty" json:"delay,omitempty"`
	Level *float64  `yaml:"level,omitempty" json:"level,omitempty"`
	Down  *float64  `yaml:"down,omitempty" json:"down,omitempty"`
	Up    *float64  `yaml:"up,omitempty" json:"up,omitempty"`
	Ms    int       `yaml:"ms,omitempty" json:"ms,omitempty"`
	Text  string    `yaml:"text,omitempty" json:"text,omitempty"`
}

func (in Instruction) record() record {
	r := record{Op: in.Kind.String()}
	switch in.Kind {
	case OpMoveTo, OpMoveRel:
		r.To = []float64{in.To.X, in.To.Y}
		if in.Speed != 0 && in.Speed != 1 {
			r.Speed = in.Speed
		}
	case OpPenUp, OpPenDown:
		r.Delay, r.Level = in.Delay, in.Level
	case OpPenConfig:
		r.Down, r.Up = in.Down, in.Up
	case OpWait:
		r.Ms = in.Ms
	case OpComment:
		r.Text = in.Text
	}
	return r
}

// bare reports whether the record carries nothing but its op.
func (r record) bare() bool {
	return r.To == nil && r.Speed == 0 && r.Delay == nil && r.Level == nil &&
		r.Down == nil && r.Up == nil && r.Ms == 0 && r.Text == ""
}

func (r record) instruction() (Instruction, error) {
	k, err := ParseKind(r.Op)
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Kind: k}
	switch k {
	case OpMoveTo, OpMoveRel:
		if len(r.To) != 2 {
			return Instruction{}, fmt.Errorf("%s: \"to\" needs 2 coordinates, got %d", k, len(r.To))
		}
		if r.Speed < 0 {
			return Instruction{}, fmt.Errorf("%s: speed must be > 0, got %g", k, r.Speed)
		}
		in.To = geometry.Vec{X: r.To[0], Y: r.To[1]}
		in.Speed = r.Speed
	case OpPenUp, OpPenDown:
		in.Delay, in.Level = r.Delay, r.Level
	case OpPenConfig:
		in.Down, in.Up = r.Down, r.Up
	case OpWait:
		if r.Ms < 0 {
			return Instruction{}, fmt.Errorf("wait: ms must be >= 0, got %d", r.Ms)
		}
		in.Ms = r.Ms
	case OpComment:
		in.Text = r.Text
	}
	return in, nil
}

// MarshalYAML writes bare ops as scalars.
func (in Instruction) MarshalYAML() (interface{}, error) {
	r := in.record()
	if r.bare() {
		return r.Op, nil
	}
	return r, nil
}

// UnmarshalYAML accepts a scalar op or an op mapping.
func (in *Instruction) UnmarshalYAML(value *yaml.Node) error {
	var r record
	switch value.Kind {
	case yaml.ScalarNode:
		if err := value.Decode(&r.Op); err != nil {
			return err
		}
	case yaml.MappingNode:
		if err := value.Decode(&r); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: instruction must be an op name or a mapping", value.Line)
	}
	parsed, err := r.instruction()
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*in = parsed
	return nil
}

// MarshalJSON writes bare ops as strings.
func (in Instruction) MarshalJSON() ([]byte, error) {
	r := in.record()
	if r.bare() {
		return json.Marshal(r.Op)
	}
	return json.Marshal(r)
}

// UnmarshalJSON accepts a string op or an op object.
func (in *Instruction) UnmarshalJSON(data []byte) error {
	var r record
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &r.Op); err != nil {
			return err
		}
	} else if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	parsed, err := r.instruction()
	if err != nil {
		return err
	}
	*in = parsed
	return nil
}

// DecodeYAML parses a YAML instruction list.
func DecodeYAML(data []byte) (Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode yaml program: %w", err)
	}
	return p, nil
}

// DecodeJSON validates data against the program schema and parses it.
func DecodeJSON(data []byte) (Program, error) {
	v, err := DefaultValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Validate(data); err != nil {
		return nil, err
	}
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode json program: %w", err)
	}
	return p, nil
}

// Load reads a program file. The format follows the extension: .yaml/.yml
// or .json.
func Load(path string) (Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	case ".json":
		return DecodeJSON(data)
	default:
		return nil, fmt.Errorf("unsupported program format %q (want .yaml, .yml or .json)", ext)
	}
}
