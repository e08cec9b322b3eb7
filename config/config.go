// vidsplit/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Probe tool discovery strategies.
const (
	ProbeDiscoverySearch = "search"
	ProbeDiscoveryDerive = "derive"
)

type Config struct {
	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	FFSearchPaths    []string      `mapstructure:"FF_SEARCH_PATHS"`
	FFUsePath        bool          `mapstructure:"FF_USE_PATH"`
	ProbeDiscovery   string        `mapstructure:"PROBE_DISCOVERY"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	FFExtraArgs      string        `mapstructure:"FF_EXTRA_ARGS"`
	SegmentTime      time.Duration `mapstructure:"SEGMENT_TIME"`
	OutputExt        string        `mapstructure:"OUTPUT_EXT"`
	FilenamePrefix   string        `mapstructure:"FILENAME_PREFIX"`
	OutputDir        string        `mapstructure:"OUTPUT_DIR"`
	VideoExts        []string      `mapstructure:"VIDEO_EXTS"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
	ListenAddr       string        `mapstructure:"LISTEN_ADDR"`
	Port             string        `mapstructure:"PORT"`
	TempDir          string
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_SEARCH_PATHS", []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"})
	vp.SetDefault("FF_USE_PATH", true)
	vp.SetDefault("PROBE_DISCOVERY", ProbeDiscoverySearch)
	vp.SetDefault("FF_TIMEOUT", "0s")
	vp.SetDefault("FF_EXTRA_ARGS", "")
	vp.SetDefault("SEGMENT_TIME", "10m")
	vp.SetDefault("OUTPUT_EXT", "mp4")
	vp.SetDefault("FILENAME_PREFIX", "segment")
	vp.SetDefault("OUTPUT_DIR", "")
	vp.SetDefault("VIDEO_EXTS", []string{
		"mp4", "mov", "m4v", "mkv", "avi", "webm", "mpg", "mpeg",
		"ts", "mts", "m2ts", "wmv", "flv", "3gp",
	})
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("LISTEN_ADDR", "127.0.0.1")
	vp.SetDefault("PORT", "8080")

	vp.SetConfigName("vidsplit_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/vidsplit/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("VIDSPLIT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts a value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize trims list entries and strips leading dots from extensions.
func (c *Config) normalize() {
	paths := c.FFSearchPaths[:0]
	for _, p := range c.FFSearchPaths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	c.FFSearchPaths = paths

	exts := c.VideoExts[:0]
	for _, e := range c.VideoExts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	c.VideoExts = exts
	c.OutputExt = strings.TrimPrefix(strings.TrimSpace(c.OutputExt), ".")
	c.ProbeDiscovery = strings.ToLower(strings.TrimSpace(c.ProbeDiscovery))
}

// Validate rejects settings no job could run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.FFBin) == "" || strings.TrimSpace(c.FFProbeBin) == "" {
		return fmt.Errorf("FF_BIN and FFPROBE_BIN must not be empty")
	}
	switch c.ProbeDiscovery {
	case ProbeDiscoverySearch, ProbeDiscoveryDerive:
	default:
		return fmt.Errorf("PROBE_DISCOVERY must be %q or %q, got %q", ProbeDiscoverySearch, ProbeDiscoveryDerive, c.ProbeDiscovery)
	}
	if c.SegmentTime <= 0 {
		return fmt.Errorf("SEGMENT_TIME must be positive, got %s", c.SegmentTime)
	}
	if c.FFTimeout < 0 {
		return fmt.Errorf("FF_TIMEOUT must not be negative, got %s", c.FFTimeout)
	}
	if c.OutputExt == "" {
		return fmt.Errorf("OUTPUT_EXT must not be empty")
	}
	if c.AuthEnable && c.AuthKey == "" {
		return fmt.Errorf("AUTH_KEY is required when AUTH_ENABLE is set")
	}
	return nil
}
