// Package config loads the application settings from a TOML file, with
// environment overrides applied on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"Marcher/internal/present"
	"Marcher/internal/shading"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

const (
	EnvValidation = "VK_VALIDATION"
	EnvLogLevel   = "MARCHER_LOG_LEVEL"
)

type Config struct {
	LogLevel  string     `toml:"log_level"`
	Window    Window     `toml:"window"`
	Vulkan    Vulkan     `toml:"vulkan"`
	Camera    Camera     `toml:"camera"`
	Input     Input      `toml:"input"`
	Materials []Material `toml:"materials"`
}

type Window struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

type Vulkan struct {
	Validation  bool   `toml:"validation"`
	PresentMode string `toml:"present_mode"`
	ShaderDir   string `toml:"shader_dir"`
}

type Camera struct {
	Position      [3]float32 `toml:"position"`
	Forward       [3]float32 `toml:"forward"`
	Speed         float32    `toml:"speed"`
	RotationSpeed float32    `toml:"rotation_speed"`
	MaxPitch      float32    `toml:"max_pitch"`
}

// Input names the keys bound to each motion, using glfw key names.
type Input struct {
	Sensitivity float32 `toml:"sensitivity"`
	Forward     string  `toml:"forward"`
	Backward    string  `toml:"backward"`
	Left        string  `toml:"left"`
	Right       string  `toml:"right"`
	DragButton  string  `toml:"drag_button"`
}

type Material struct {
	Specular  float32    `toml:"specular"`
	Shininess float32    `toml:"shininess"`
	Roughness float32    `toml:"roughness"`
	Diffuse   float32    `toml:"diffuse"`
	Color     [3]float32 `toml:"color"`
}

// Default returns the built-in settings: an 800x600 window looking down at
// the scene from (-0.5, 3, 8).
func Default() *Config {
	c := &Config{
		LogLevel: "info",
		Window:   Window{Width: 800, Height: 600, Title: "Marcher"},
		Vulkan:   Vulkan{PresentMode: "fifo", ShaderDir: "shaders"},
		Camera: Camera{
			Position:      [3]float32{-0.5, 3, 8},
			Forward:       [3]float32{0, -1, -5},
			Speed:         2,
			RotationSpeed: 2,
			MaxPitch:      89,
		},
		Input: Input{
			Sensitivity: 0.05,
			Forward:     "w",
			Backward:    "s",
			Left:        "a",
			Right:       "d",
			DragButton:  "left",
		},
	}
	for _, m := range shading.DefaultMaterials {
		c.Materials = append(c.Materials, Material{
			Specular:  m.Specular,
			Shininess: m.Shininess,
			Roughness: m.Roughness,
			Diffuse:   m.Diffuse,
			Color:     m.Color,
		})
	}
	return c
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := c.decode(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyEnv(os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// decode overlays data on c. A file that lists materials replaces the whole
// table.
func (c *Config) decode(data []byte) error {
	defaults := c.Materials
	c.Materials = nil
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return err
	}
	if c.Materials == nil {
		c.Materials = defaults
	}
	return nil
}

// Encode writes c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvValidation); ok {
		c.Vulkan.Validation = v != "" && v != "0" && !strings.EqualFold(v, "false")
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if _, err := c.PresentMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.Speed <= 0 {
		errs = append(errs, errors.New("camera speed must be positive"))
	}
	if c.Camera.MaxPitch <= 0 || c.Camera.MaxPitch >= 90 {
		errs = append(errs, fmt.Errorf("camera max_pitch %v must be in (0, 90)", c.Camera.MaxPitch))
	}
	if c.Input.Sensitivity <= 0 {
		errs = append(errs, errors.New("input sensitivity must be positive"))
	}
	if len(c.Materials) != shading.MaterialCount {
		errs = append(errs, fmt.Errorf("need exactly %d materials, have %d", shading.MaterialCount, len(c.Materials)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) PresentMode() (present.PresentMode, error) {
	switch strings.ToLower(c.Vulkan.PresentMode) {
	case "", "fifo":
		return present.PresentFifo, nil
	case "mailbox":
		return present.PresentMailbox, nil
	case "immediate":
		return present.PresentImmediate, nil
	default:
		return 0, fmt.Errorf("unknown present mode %q", c.Vulkan.PresentMode)
	}
}

func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// MaterialTable converts the configured materials into the shader table.
// Validate must have passed.
func (c *Config) MaterialTable() [shading.MaterialCount]shading.Material {
	var table [shading.MaterialCount]shading.Material
	for i := range table {
		m := c.Materials[i]
		table[i] = shading.Material{
			Specular:  m.Specular,
			Shininess: m.Shininess,
			Roughness: m.Roughness,
			Diffuse:   m.Diffuse,
			Color:     m.Color,
		}
	}
	return table
}
