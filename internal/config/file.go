package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/regioncap/internal/recorder"
	"github.com/dgnsrekt/regioncap/internal/telemetry"
)

// WindowEntry is a page the launched browser opens at startup.
type WindowEntry struct {
	URL string `yaml:"url"`
}

// fileRecording adds the settings whose zero value is meaningful.
type fileRecording struct {
	recorder.Options `yaml:",inline"`
	Selection        *bool `yaml:"selection"`
}

// FileConfig is the optional YAML configuration. Zero values leave the
// defaults alone.
type FileConfig struct {
	Recording fileRecording `yaml:"recording"`
	Encoder   struct {
		FFmpegPath string `yaml:"ffmpeg_path"`
		AllowMJPEG *bool  `yaml:"allow_mjpeg"`
	} `yaml:"encoder"`
	Telemetry telemetry.Limits `yaml:"telemetry"`
	Windows   []WindowEntry    `yaml:"windows"`
	DataDir   string           `yaml:"data_dir"`
}

// LoadFile reads and validates a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	for i, w := range fc.Windows {
		if w.URL == "" {
			return nil, fmt.Errorf("config file %s: windows[%d] missing url", path, i)
		}
	}
	return &fc, nil
}

func (fc *FileConfig) apply(cfg *Config) {
	r, f := &cfg.Recording, fc.Recording
	if f.FPS != 0 {
		r.FPS = f.FPS
	}
	if f.MaxSeconds != 0 {
		r.MaxSeconds = f.MaxSeconds
	}
	if f.MaxBytes != 0 {
		r.MaxBytes = f.MaxBytes
	}
	if f.Timeslice != 0 {
		r.Timeslice = f.Timeslice
	}
	if f.PrimeDelay != 0 {
		r.PrimeDelay = f.PrimeDelay
	}
	if f.CaptionWindow != 0 {
		r.CaptionWindow = f.CaptionWindow
	}
	if f.Selection != nil {
		r.Selection = *f.Selection
	}
	if fc.Encoder.FFmpegPath != "" {
		cfg.FFmpegPath = fc.Encoder.FFmpegPath
	}
	if fc.Encoder.AllowMJPEG != nil {
		cfg.AllowMJPEG = *fc.Encoder.AllowMJPEG
	}
	if fc.Telemetry.ConsoleEntries != 0 {
		cfg.Telemetry.ConsoleEntries = fc.Telemetry.ConsoleEntries
	}
	if fc.Telemetry.NetworkRequests != 0 {
		cfg.Telemetry.NetworkRequests = fc.Telemetry.NetworkRequests
	}
	if fc.Telemetry.MaxBodyBytes != 0 {
		cfg.Telemetry.MaxBodyBytes = fc.Telemetry.MaxBodyBytes
	}
	if len(fc.Windows) > 0 {
		cfg.StartURLs = cfg.StartURLs[:0]
		for _, w := range fc.Windows {
			cfg.StartURLs = append(cfg.StartURLs, w.URL)
		}
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
}
