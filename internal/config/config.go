package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag when looking up overrides.
const EnvPrefix = "VIDIP_"

// Options holds every tunable of the tool. Values are resolved with the
// precedence CLI flags > environment > TOML file > defaults.
type Options struct {
	Config string `help:"Path to configuration file"`

	// Camera settings
	CameraPrefix string `toml:"camera.prefix" env:"CAMERA_PREFIX"`
	CameraPath   string `toml:"camera.stream_path" env:"CAMERA_STREAM_PATH"`
	CamUser      string `toml:"camera.user" env:"CAM_USER"`
	CamPass      string `toml:"camera.pass" env:"CAM_PASS"`

	// Streaming pipeline settings
	Transport   string   `toml:"stream.transport" env:"STREAM_TRANSPORT"`
	PixelFormat string   `toml:"stream.pixel_format" env:"STREAM_PIXEL_FORMAT"`
	Resolution  string   `toml:"stream.resolution" env:"STREAM_RESOLUTION"`
	Framerate   string   `toml:"stream.framerate" env:"STREAM_FRAMERATE"`
	ExtraArgs   []string `toml:"stream.extra_args" env:"STREAM_EXTRA_ARGS"`

	// Virtual device settings
	Label string `toml:"devices.label" env:"DEVICES_LABEL"`

	// Logging settings
	LoggingLevel   string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDevices string `toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingFFmpeg  string `toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
}

// Defaults returns an Options with every field at its default value.
func Defaults() *Options {
	return &Options{
		Config:        "vidip.toml",
		CameraPrefix:  "192.168.0.",
		CameraPath:    "axis-media/media.amp",
		Transport:     "tcp",
		PixelFormat:   "yuv420p",
		Label:         "vidip",
		LoggingLevel:  "info",
		LoggingFormat: "text",
	}
}

// Load reads options from the given config file path plus environment
// overrides, without any CLI involvement. Used for fresh reloads while
// streaming.
func Load(path string) (*Options, error) {
	opts := Defaults()
	opts.Config = path
	if err := LoadConfig(opts, nil); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoadConfig fills opts from its TOML config file and the environment.
// Fields whose flags were explicitly set on the command line are left alone,
// so CLI arguments always win.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() {
		configPath = f.String()
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var raw map[string]any
			if err := toml.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("failed to parse %s: %w", configPath, err)
			}
			for i := 0; i < v.NumField(); i++ {
				field := v.Field(i)
				fieldType := t.Field(i)
				if changed[fieldNameToFlag(fieldType.Name)] {
					continue
				}
				if path := fieldType.Tag.Get("toml"); path != "" {
					if value := nestedValue(raw, path); value != nil {
						setField(field, value)
					}
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if changed[fieldNameToFlag(fieldType.Name)] {
			continue
		}
		if key := fieldType.Tag.Get("env"); key != "" {
			if value := os.Getenv(EnvPrefix + key); value != "" {
				setFieldFromString(field, value)
			}
		}
	}

	return nil
}

// DebugEnabled reports whether the VIDIP_DEBUG env var requests verbose output.
func DebugEnabled() bool {
	v := os.Getenv(EnvPrefix + "DEBUG")
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// fieldNameToFlag converts a struct field name to its CLI flag name.
// Example: "LoggingLevel" -> "logging-level".
func fieldNameToFlag(name string) string {
	var out []rune
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			out = append(out, '-')
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// nestedValue walks a parsed TOML map using dot notation.
func nestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

func setField(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		if arr, ok := value.([]any); ok {
			out := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
}

func setFieldFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(n)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(value, ",")
		out := make([]string, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		field.Set(reflect.ValueOf(out))
	}
}
