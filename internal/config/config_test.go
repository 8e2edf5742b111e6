package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

// testOptions mirrors the Options tag layout for loader tests.
type testOptions struct {
	Config string `help:"Config file path"`

	StringField string   `toml:"test.string_field" env:"STRING_FIELD"`
	BoolField   bool     `toml:"test.bool_field" env:"BOOL_FIELD"`
	IntField    int      `toml:"test.int_field" env:"INT_FIELD"`
	SliceField  []string `toml:"test.slice_field" env:"SLICE_FIELD"`
	NestedValue string   `toml:"nested.value" env:"NESTED_VALUE"`
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vidip.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTempConfig(t, `
[test]
string_field = "hello"
bool_field = true
int_field = 42
slice_field = ["a", "b"]

[nested]
value = "deep"
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.StringField != "hello" {
		t.Errorf("StringField = %q, expected %q", opts.StringField, "hello")
	}
	if !opts.BoolField {
		t.Errorf("BoolField = false, expected true")
	}
	if opts.IntField != 42 {
		t.Errorf("IntField = %d, expected 42", opts.IntField)
	}
	if !reflect.DeepEqual(opts.SliceField, []string{"a", "b"}) {
		t.Errorf("SliceField = %v, expected [a b]", opts.SliceField)
	}
	if opts.NestedValue != "deep" {
		t.Errorf("NestedValue = %q, expected %q", opts.NestedValue, "deep")
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTempConfig(t, `
[test]
string_field = "from file"
`)
	t.Setenv(EnvPrefix+"STRING_FIELD", "from env")
	t.Setenv(EnvPrefix+"SLICE_FIELD", "x, y ,z")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.StringField != "from env" {
		t.Errorf("StringField = %q, expected env value to win", opts.StringField)
	}
	if !reflect.DeepEqual(opts.SliceField, []string{"x", "y", "z"}) {
		t.Errorf("SliceField = %v, expected [x y z]", opts.SliceField)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeTempConfig(t, `
[test]
string_field = "from file"
`)
	t.Setenv(EnvPrefix+"STRING_FIELD", "from env")

	opts := &testOptions{Config: path, StringField: "from cli"}
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&opts.StringField, "string-field", "", "")
	if err := cmd.Flags().Set("string-field", "from cli"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.StringField != "from cli" {
		t.Errorf("StringField = %q, expected CLI value to win", opts.StringField)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defaults := Defaults()
	if opts.CameraPrefix != defaults.CameraPrefix {
		t.Errorf("CameraPrefix = %q, expected default %q", opts.CameraPrefix, defaults.CameraPrefix)
	}
	if opts.Label != defaults.Label {
		t.Errorf("Label = %q, expected default %q", opts.Label, defaults.Label)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeTempConfig(t, `not [valid`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestDebugEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"true", true},
		{"0", false},
		{"yes", false},
	}
	for _, tt := range tests {
		t.Setenv(EnvPrefix+"DEBUG", tt.value)
		if got := DebugEnabled(); got != tt.want {
			t.Errorf("DebugEnabled() with %q = %v, expected %v", tt.value, got, tt.want)
		}
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Config", "config"},
		{"CameraPrefix", "camera-prefix"},
		{"LoggingLevel", "logging-level"},
		{"FPS", "f-p-s"},
	}
	for _, tt := range tests {
		if got := fieldNameToFlag(tt.in); got != tt.want {
			t.Errorf("fieldNameToFlag(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}
