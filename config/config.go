// Package config loads the detector configuration from PRODUCE_* environment
// variables and the optional label table file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tutortoise/produce-detector/models"
	"github.com/Tutortoise/produce-detector/render"
)

const maxLabelFileSize = 1 * 1024 * 1024 // 1MB

// Config is the full process configuration.
type Config struct {
	ModelPath  string `env:"PRODUCE_MODEL_PATH"  envDefault:"models/produce.onnx"`
	ORTLibrary string `env:"PRODUCE_ORT_LIBRARY"`
	LabelsPath string `env:"PRODUCE_LABELS_PATH"`

	CycleIntervalMS int     `env:"PRODUCE_CYCLE_INTERVAL_MS" envDefault:"5000"`
	Threshold       float32 `env:"PRODUCE_THRESHOLD"         envDefault:"0.5"`

	// ArenaBytes of 0 derives the arena size from the CPU.
	ArenaBytes  int      `env:"PRODUCE_ARENA_BYTES"  envDefault:"0"`
	MemoryTier  string   `env:"PRODUCE_MEMORY_TIER"  envDefault:"mmap"`
	Operators   []string `env:"PRODUCE_OPERATORS"    envSeparator:","`
	InputWidth  int      `env:"PRODUCE_INPUT_WIDTH"  envDefault:"96"`
	InputHeight int      `env:"PRODUCE_INPUT_HEIGHT" envDefault:"96"`
	Channels    int      `env:"PRODUCE_CHANNELS"     envDefault:"3"`
	Layout      string   `env:"PRODUCE_LAYOUT"       envDefault:"nhwc"`
	InputName   string   `env:"PRODUCE_INPUT_NAME"   envDefault:"input"`
	OutputName  string   `env:"PRODUCE_OUTPUT_NAME"  envDefault:"output"`

	// FrameSource is "camera" or "images".
	FrameSource string `env:"PRODUCE_FRAME_SOURCE" envDefault:"camera"`
	CameraDev   string `env:"PRODUCE_CAMERA_DEVICE" envDefault:"/dev/video0"`
	ImageDir    string `env:"PRODUCE_IMAGE_DIR"     envDefault:"images"`

	// LCD is "none", "i2c", "serial" or "virtual".
	LCD       string `env:"PRODUCE_LCD"         envDefault:"virtual"`
	LCDDevice string `env:"PRODUCE_LCD_DEVICE"  envDefault:"/dev/i2c-1"`
	LCDAddr   int    `env:"PRODUCE_LCD_ADDR"    envDefault:"39"`
	LCDBaud   int    `env:"PRODUCE_LCD_BAUD"    envDefault:"9600"`
	LCDRows   int    `env:"PRODUCE_LCD_ROWS"    envDefault:"4"`
	LCDCols   int    `env:"PRODUCE_LCD_COLS"    envDefault:"20"`

	Panel     bool   `env:"PRODUCE_PANEL"      envDefault:"false"`
	PanelPath string `env:"PRODUCE_PANEL_PATH"`

	HistoryDB    string `env:"PRODUCE_HISTORY_DB"`
	StatusAddr   string `env:"PRODUCE_STATUS_ADDR" envDefault:"127.0.0.1:8080"`
	OTELEndpoint string `env:"PRODUCE_OTEL_ENDPOINT"`
	Debug        bool   `env:"DEBUG" envDefault:"false"`
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot.
func (c Config) Validate() error {
	if c.CycleIntervalMS < 0 {
		return fmt.Errorf("cycle interval must not be negative, got %dms", c.CycleIntervalMS)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0,1], got %v", c.Threshold)
	}
	if c.ArenaBytes < 0 {
		return fmt.Errorf("arena size must not be negative, got %d", c.ArenaBytes)
	}
	if _, err := c.Shape(); err != nil {
		return err
	}
	switch c.FrameSource {
	case "camera", "images":
	default:
		return fmt.Errorf("unknown frame source %q", c.FrameSource)
	}
	switch c.LCD {
	case "none", "i2c", "serial", "virtual":
	default:
		return fmt.Errorf("unknown lcd kind %q", c.LCD)
	}
	if c.LCD != "none" {
		if err := render.CheckLCDGeometry(c.LCDRows, c.LCDCols); err != nil {
			return err
		}
	}
	return nil
}

// Shape returns the configured input frame geometry.
func (c Config) Shape() (models.FrameShape, error) {
	layout, err := models.ParseLayout(c.Layout)
	if err != nil {
		return models.FrameShape{}, err
	}
	shape := models.FrameShape{Width: c.InputWidth, Height: c.InputHeight, Channels: c.Channels, Layout: layout}
	if err := shape.Validate(); err != nil {
		return models.FrameShape{}, err
	}
	return shape, nil
}

// CycleInterval returns the sleep between cycles.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMS) * time.Millisecond
}

// LabelTable returns the table at LabelsPath, or the built-in default when no
// path is configured.
func (c Config) LabelTable() (models.LabelTable, error) {
	if c.LabelsPath == "" {
		return models.DefaultLabelTable(), nil
	}
	return LoadLabelTable(c.LabelsPath)
}

// LoadLabelTable loads a label table from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadLabelTable(path string) (models.LabelTable, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return models.LabelTable{}, fmt.Errorf("label file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return models.LabelTable{}, fmt.Errorf("failed to stat label file: %w", err)
	}
	if fileInfo.Size() > maxLabelFileSize {
		return models.LabelTable{}, fmt.Errorf("label file too large: %d bytes (max %d)", fileInfo.Size(), maxLabelFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return models.LabelTable{}, fmt.Errorf("failed to read label file: %w", err)
	}

	var table models.LabelTable
	if err := json.Unmarshal(data, &table); err != nil {
		return models.LabelTable{}, fmt.Errorf("failed to parse label file: %w", err)
	}
	if err := table.Validate(); err != nil {
		return models.LabelTable{}, fmt.Errorf("invalid label file: %w", err)
	}
	return table, nil
}
