package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/PlotGo/internal/hw/serial"
	"github.com/cjeanneret/PlotGo/internal/logic/draw"
	"github.com/cjeanneret/PlotGo/internal/logic/geometry"
	"github.com/cjeanneret/PlotGo/internal/logic/motion"
	"github.com/cjeanneret/PlotGo/internal/logic/pen"
	"github.com/cjeanneret/PlotGo/internal/logic/servo"
	"github.com/cjeanneret/PlotGo/internal/program"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// SerialConfig selects the controller's port.
type SerialConfig struct {
	Device  string `yaml:"device"`  // port path prefix, first match wins
	Pattern string `yaml:"pattern"` // regexp on the port path; overrides device
	Baud    int    `yaml:"baud"`
}

// BoundsConfig limits travel. Paper wins over Min/Max; Disabled wins over
// both. A bounds key in a file replaces the default as a whole.
type BoundsConfig struct {
	Paper    string    `yaml:"paper,omitempty"` // e.g. "a3-landscape"
	Min      []float64 `yaml:"min,omitempty,flow"`
	Max      []float64 `yaml:"max,omitempty,flow"` // world units
	Disabled bool      `yaml:"disabled,omitempty"`
}

// UnmarshalYAML decodes into a zero value so an inherited paper size does
// not shadow an explicit min/max rectangle.
func (b *BoundsConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain BoundsConfig
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*b = BoundsConfig(p)
	return nil
}

// PlotterConfig describes the machine geometry and speeds.
type PlotterConfig struct {
	UnitsPerInch float64      `yaml:"units_per_inch"` // 25.4 = millimeters
	StepsPerInch float64      `yaml:"steps_per_inch"`
	SpeedUp      float64      `yaml:"speed_up"`   // steps/s
	SpeedDown    float64      `yaml:"speed_down"` // steps/s
	Home         []float64    `yaml:"home,flow"`  // world units
	Bounds       BoundsConfig `yaml:"bounds"`
}

// PenConfig holds the pen-lift settings in percent and milliseconds.
type PenConfig struct {
	Up        float64 `yaml:"up"`
	Down      float64 `yaml:"down"`
	UpRate    float64 `yaml:"up_rate"`
	DownRate  float64 `yaml:"down_rate"`
	DelayUp   int     `yaml:"delay_up"`
	DelayDown int     `yaml:"delay_down"`
	PreDelay  int     `yaml:"pre_delay"`
	Penlift   string  `yaml:"penlift"` // "standard" or "narrow_band"
	TimeoutMs int     `yaml:"timeout_ms"`
}

// ServoConfig holds the per-variant hardware constants.
type ServoConfig struct {
	Standard   servo.Hardware `yaml:"standard"`
	NarrowBand servo.Hardware `yaml:"narrow_band"`
}

// ControlConfig configures pause handling and the optional GPIO buttons.
type ControlConfig struct {
	RefreshMs int `yaml:"refresh_ms"` // pause polling interval
	PausePin  int `yaml:"pause_pin"`  // BCM pin, -1 = not used
	CancelPin int `yaml:"cancel_pin"` // BCM pin, -1 = not used
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Port int `yaml:"port"`
}

// Config aggregates all application configuration.
type Config struct {
	DebugLevel int  `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // true=dev/test, false=real Raspberry Pi
	MockSerial bool `yaml:"mock_serial"` // true=record commands instead of opening a port

	Serial  SerialConfig    `yaml:"serial"`
	Plotter PlotterConfig   `yaml:"plotter"`
	Pen     PenConfig       `yaml:"pen"`
	Servo   ServoConfig     `yaml:"servo"`
	Control ControlConfig   `yaml:"control"`
	Web     WebConfig       `yaml:"web"`
	Start   program.Program `yaml:"start"`
	Stop    program.Program `yaml:"stop"`
}

// Default returns the stock AxiDraw configuration: millimeters, A3
// landscape bounds, standard servo.
func Default() *Config {
	return &Config{
		DebugLevel: 1,
		MockGPIO:   true,
		Serial: SerialConfig{
			Device: "/dev/tty.usbmodem",
			Baud:   serial.DefaultBaudRate,
		},
		Plotter: PlotterConfig{
			UnitsPerInch: geometry.MillimetersPerInch,
			StepsPerInch: 2032,
			SpeedUp:      4000,
			SpeedDown:    4000,
			Home:         []float64{0, 0},
			Bounds:       BoundsConfig{Paper: "a3-landscape"},
		},
		Pen: PenConfig{
			Up:        60,
			Down:      30,
			UpRate:    75,
			DownRate:  50,
			Penlift:   servo.Standard.String(),
			TimeoutMs: 60000,
		},
		Servo: ServoConfig{
			Standard:   servo.DefaultHardware(servo.Standard),
			NarrowBand: servo.DefaultHardware(servo.NarrowBand),
		},
		Control: ControlConfig{
			RefreshMs: 1000,
			PausePin:  -1,
			CancelPin: -1,
		},
		Web:   WebConfig{Port: 8080},
		Start: program.DefaultStart(),
		Stop:  program.DefaultStop(),
	}
}

// ValidateConfigPath checks that a user-supplied path names a .yaml file
// directly inside a "configs" directory, without traversal.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return fmt.Errorf("config path %q must not contain '..'", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges. Down <= up is deliberately not enforced.
func (c *Config) Validate() error {
	p := c.Plotter
	if p.UnitsPerInch <= 0 || p.StepsPerInch <= 0 {
		return fmt.Errorf("plotter.units_per_inch and plotter.steps_per_inch must be > 0")
	}
	if p.SpeedUp <= 0 || p.SpeedDown <= 0 {
		return fmt.Errorf("plotter.speed_up and plotter.speed_down must be > 0")
	}
	if len(p.Home) != 2 {
		return fmt.Errorf("plotter.home must have 2 coordinates, got %d", len(p.Home))
	}
	if _, err := c.StepBounds(); err != nil {
		return err
	}

	for name, v := range map[string]float64{"pen.up": c.Pen.Up, "pen.down": c.Pen.Down} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %.2f", name, v)
		}
	}
	for name, v := range map[string]float64{"pen.up_rate": c.Pen.UpRate, "pen.down_rate": c.Pen.DownRate} {
		if v < 1 || v > 100 {
			return fmt.Errorf("%s must be between 1 and 100, got %.2f", name, v)
		}
	}
	if c.Pen.PreDelay < 0 {
		return fmt.Errorf("pen.pre_delay must be >= 0, got %d", c.Pen.PreDelay)
	}
	if c.Pen.TimeoutMs < 0 {
		return fmt.Errorf("pen.timeout_ms must be >= 0, got %d", c.Pen.TimeoutMs)
	}
	if _, err := servo.ParseVariant(c.Pen.Penlift); err != nil {
		return fmt.Errorf("pen.penlift: %w", err)
	}
	if h := c.Hardware(); h.Max <= h.Min || h.SweepTime <= 0 {
		return fmt.Errorf("servo.%s: max must exceed min and sweep_time must be > 0", c.Variant())
	}

	if c.Control.RefreshMs <= 0 {
		return fmt.Errorf("control.refresh_ms must be > 0, got %d", c.Control.RefreshMs)
	}
	if c.Serial.Pattern != "" {
		if _, err := regexp.Compile(c.Serial.Pattern); err != nil {
			return fmt.Errorf("serial.pattern: %w", err)
		}
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = serial.DefaultBaudRate
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 0 and 65535, got %d", c.Web.Port)
	}
	if c.DebugLevel < 0 || c.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.DebugLevel)
	}
	return nil
}

// Variant returns the configured lift mechanism.
func (c *Config) Variant() servo.Variant {
	v, _ := servo.ParseVariant(c.Pen.Penlift)
	return v
}

// Hardware returns the constants of the configured lift mechanism.
func (c *Config) Hardware() servo.Hardware {
	if c.Variant() == servo.NarrowBand {
		return c.Servo.NarrowBand
	}
	return c.Servo.Standard
}

// ServoSettings returns the pen-lift settings.
func (c *Config) ServoSettings() servo.Settings {
	return servo.Settings{
		Up:        c.Pen.Up,
		Down:      c.Pen.Down,
		UpRate:    c.Pen.UpRate,
		DownRate:  c.Pen.DownRate,
		DelayUp:   c.Pen.DelayUp,
		DelayDown: c.Pen.DelayDown,
		Timeout:   c.Pen.TimeoutMs,
	}
}

// PenLimits returns the configured (down, up) pair.
func (c *Config) PenLimits() pen.Limits {
	return pen.Limits{Down: c.Pen.Down, Up: c.Pen.Up}
}

// Scaler returns the world-to-steps conversion.
func (c *Config) Scaler() geometry.Scaler {
	home := geometry.Origin
	if len(c.Plotter.Home) == 2 {
		home = geometry.Vec{X: c.Plotter.Home[0], Y: c.Plotter.Home[1]}
	}
	return geometry.NewScaler(c.Plotter.StepsPerInch, c.Plotter.UnitsPerInch, home)
}

// StepBounds returns the travel limits in steps, or nil when disabled.
func (c *Config) StepBounds() (*geometry.Rect, error) {
	b := c.Plotter.Bounds
	switch {
	case b.Disabled:
		return nil, nil
	case b.Paper != "":
		paper, err := geometry.LookupPaper(b.Paper)
		if err != nil {
			return nil, fmt.Errorf("plotter.bounds.paper: %w", err)
		}
		r := paper.StepBounds(c.Plotter.StepsPerInch)
		return &r, nil
	case len(b.Min) == 2 && len(b.Max) == 2:
		r := c.Scaler().RectToSteps(geometry.Rect{
			Min: geometry.Vec{X: b.Min[0], Y: b.Min[1]},
			Max: geometry.Vec{X: b.Max[0], Y: b.Max[1]},
		})
		if r.Min.X > r.Max.X || r.Min.Y > r.Max.Y {
			return nil, fmt.Errorf("plotter.bounds: min must not exceed max")
		}
		return &r, nil
	case len(b.Min) == 0 && len(b.Max) == 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("plotter.bounds: min and max need 2 coordinates each")
	}
}

// Refresh returns the pause polling interval.
func (c *Config) Refresh() time.Duration {
	return time.Duration(c.Control.RefreshMs) * time.Millisecond
}

// Engine builds the draw engine configuration.
func (c *Config) Engine() (draw.Config, error) {
	bounds, err := c.StepBounds()
	if err != nil {
		return draw.Config{}, err
	}
	return draw.Config{
		Hardware: c.Hardware(),
		Servo:    c.ServoSettings(),
		Motion: motion.Config{
			Scaler:    c.Scaler(),
			Bounds:    bounds,
			SpeedUp:   c.Plotter.SpeedUp,
			SpeedDown: c.Plotter.SpeedDown,
		},
		PreDelay: c.Pen.PreDelay,
		Refresh:  c.Refresh(),
		Start:    c.Start,
		Stop:     c.Stop,
	}, nil
}
