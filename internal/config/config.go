// Package config defines the alignment probe configuration: device
// connection parameters, the gauge-to-channel map for both measurement
// planes, view/smoothing settings and the alignment-class threshold tables.
//
// Configuration is loaded once at startup from a JSON file and validated
// before any acquisition run starts. The running pipeline never reads the
// file again; reconfiguration is an atomic replacement of the whole value.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/me-systeme/alignprobe/internal/strain"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/alignment.defaults.json"

// NumChannels is the GSV-8 channel count. The channel map may only reference
// indices below this.
const NumChannels = 8

// Config is the root configuration.
type Config struct {
	Device   Device            `json:"device"`
	Channels ChannelMap        `json:"channels"`
	View     View              `json:"view"`
	Classes  strain.ClassTable `json:"alignment_classes"`
}

// Device holds the serial connection and acquisition parameters.
type Device struct {
	SerialPort      string  `json:"serial_port"`
	BaudRate        int     `json:"baud_rate"`
	SampleFrequency float64 `json:"sample_frequency"`
	ReadTimeoutMS   int     `json:"read_timeout_ms"`
	// FramesPerRead bounds how many buffered frames one transport read may
	// return.
	FramesPerRead int `json:"frames_per_read"`
}

// ReadTimeout returns the transport read timeout as a duration.
func (d Device) ReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeoutMS) * time.Millisecond
}

// PlaneChannels maps one plane's angular gauge positions to zero-based
// device channel indices.
type PlaneChannels struct {
	E0   int `json:"e0"`
	E90  int `json:"e90"`
	E180 int `json:"e180"`
	E270 int `json:"e270"`
}

func (p PlaneChannels) indices() [4]int {
	return [4]int{p.E0, p.E90, p.E180, p.E270}
}

// ChannelMap assigns the eight device channels to the two measurement
// planes. All eight referenced indices must be distinct and in range.
type ChannelMap struct {
	PlaneA PlaneChannels `json:"plane_a"`
	PlaneB PlaneChannels `json:"plane_b"`
}

// Validate checks the channel map invariants once at load time.
func (m ChannelMap) Validate() error {
	seen := map[int]string{}
	for plane, ch := range map[string]PlaneChannels{"plane_a": m.PlaneA, "plane_b": m.PlaneB} {
		for pos, idx := range map[string]int{"e0": ch.E0, "e90": ch.E90, "e180": ch.E180, "e270": ch.E270} {
			if idx < 0 || idx >= NumChannels {
				return fmt.Errorf("channel map %s.%s: index %d out of range [0, %d)", plane, pos, idx, NumChannels)
			}
			if prev, dup := seen[idx]; dup {
				return fmt.Errorf("channel map %s.%s: index %d already used by %s", plane, pos, idx, prev)
			}
			seen[idx] = plane + "." + pos
		}
	}
	return nil
}

// View holds display and pipeline tuning values.
type View struct {
	AutoScale      bool    `json:"auto_scale"`
	FixedRadius    float64 `json:"fixed_radius"`
	RefreshMS      int     `json:"refresh_ms"`
	BatchFrames    int     `json:"batch_frames"`
	SmoothingAlpha float64 `json:"smoothing_alpha"`
	PBFloor        float64 `json:"pb_floor"`
}

// RefreshInterval returns the renderer refresh interval as a duration.
func (v View) RefreshInterval() time.Duration {
	return time.Duration(v.RefreshMS) * time.Millisecond
}

// Default returns the built-in configuration. Loading a file overlays the
// file's fields onto these values, so partial configs are safe.
func Default() *Config {
	return &Config{
		Device: Device{
			SerialPort:      "/dev/ttyACM0",
			BaudRate:        115200,
			SampleFrequency: 50,
			ReadTimeoutMS:   500,
			FramesPerRead:   64,
		},
		Channels: ChannelMap{
			PlaneA: PlaneChannels{E0: 0, E90: 1, E180: 2, E270: 3},
			PlaneB: PlaneChannels{E0: 4, E90: 5, E180: 6, E270: 7},
		},
		View: View{
			AutoScale:      true,
			FixedRadius:    100,
			RefreshMS:      200,
			BatchFrames:    1000,
			SmoothingAlpha: 0.2,
			PBFloor:        strain.DefaultPBFloor,
		},
		Classes: strain.ClassTable{
			AxialSplit: 1000,
			SmallAxial: []strain.ClassBound{
				{Name: "Class 1", Limit: 5, Color: strain.RGB{G: 170}},
				{Name: "Class 2", Limit: 10, Color: strain.RGB{R: 160, G: 200}},
				{Name: "Class 3", Limit: 20, Color: strain.RGB{R: 230, G: 160}},
			},
			BigAxial: []strain.ClassBound{
				{Name: "Class 1", Limit: 5, Color: strain.RGB{G: 170}},
				{Name: "Class 2", Limit: 10, Color: strain.RGB{R: 160, G: 200}},
				{Name: "Class 3", Limit: 20, Color: strain.RGB{R: 230, G: 160}},
			},
			OutOfClass: strain.ClassBound{Name: "Out of class", Color: strain.RGB{R: 200}},
		},
	}
}

// Load reads a JSON configuration file, overlays it onto the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section. A configuration that fails validation must
// not be used to start a run.
func (c *Config) Validate() error {
	if c.Device.SerialPort == "" {
		return fmt.Errorf("device.serial_port must be set")
	}
	if c.Device.BaudRate <= 0 {
		return fmt.Errorf("device.baud_rate must be positive, got %d", c.Device.BaudRate)
	}
	if c.Device.SampleFrequency <= 0 {
		return fmt.Errorf("device.sample_frequency must be positive, got %g", c.Device.SampleFrequency)
	}
	if c.Device.ReadTimeoutMS <= 0 {
		return fmt.Errorf("device.read_timeout_ms must be positive, got %d", c.Device.ReadTimeoutMS)
	}
	if c.Device.FramesPerRead < 1 {
		return fmt.Errorf("device.frames_per_read must be >= 1, got %d", c.Device.FramesPerRead)
	}

	if err := c.Channels.Validate(); err != nil {
		return err
	}

	if c.View.BatchFrames < 1 {
		return fmt.Errorf("view.batch_frames must be >= 1, got %d", c.View.BatchFrames)
	}
	if c.View.SmoothingAlpha <= 0 || c.View.SmoothingAlpha > 1 {
		return fmt.Errorf("view.smoothing_alpha must be in (0, 1], got %g", c.View.SmoothingAlpha)
	}
	if !c.View.AutoScale && c.View.FixedRadius <= 0 {
		return fmt.Errorf("view.fixed_radius must be positive in fixed-radius mode, got %g", c.View.FixedRadius)
	}
	if c.View.RefreshMS <= 0 {
		return fmt.Errorf("view.refresh_ms must be positive, got %d", c.View.RefreshMS)
	}
	if c.View.PBFloor <= 0 {
		return fmt.Errorf("view.pb_floor must be positive, got %g", c.View.PBFloor)
	}

	if err := c.Classes.Validate(); err != nil {
		return fmt.Errorf("alignment_classes: %w", err)
	}
	return nil
}
