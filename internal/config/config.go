package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/agentexec/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to the env tag of every option.
const EnvPrefix = "AGENTEXEC_"

var durationType = reflect.TypeOf(time.Duration(0))

// option is one settable field of an options struct together with the
// names it is known by in each configuration layer.
type option struct {
	field reflect.Value
	flag  string
	toml  string
	env   string
}

// LoadConfig fills opts, a pointer to an options struct, from the TOML file
// named by its Config field and then from AGENTEXEC_* environment
// variables. Flags explicitly set on cmd win over both layers. Values that
// do not fit their field are reported together.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("options must be a pointer to a struct, got %T", opts)
	}
	v = v.Elem()

	options := collectOptions(v, changedFlags(cmd))

	var errs []error
	if path := v.FieldByName("Config"); path.IsValid() && path.Kind() == reflect.String {
		table, err := readTable(path.String())
		if err != nil {
			return err
		}
		for _, o := range options {
			if o.toml == "" {
				continue
			}
			value := getNestedValue(table, o.toml)
			if value == nil {
				continue
			}
			if err := assign(o.field, value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", o.toml, err))
			}
		}
	}

	for _, o := range options {
		if o.env == "" {
			continue
		}
		raw := os.Getenv(EnvPrefix + o.env)
		if raw == "" {
			continue
		}
		if err := assignString(o.field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, o.env, err))
		}
	}

	return errors.Join(errs...)
}

// collectOptions lists the settable fields not overridden on the command line.
func collectOptions(v reflect.Value, changed map[string]bool) []option {
	t := v.Type()
	options := make([]option, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		o := option{
			field: v.Field(i),
			flag:  fieldNameToFlag(sf.Name),
			toml:  sf.Tag.Get("toml"),
			env:   sf.Tag.Get("env"),
		}
		if changed[o.flag] {
			continue
		}
		options = append(options, o)
	}
	return options
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// readTable parses the TOML file at path. A missing file yields no table.
func readTable(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var table map[string]any
	if err := toml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return table, nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name:
// "PolicyGraceWindow" becomes "policy-grace-window".
func fieldNameToFlag(fieldName string) string {
	var b strings.Builder
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue looks up a dotted path such as "policy.timeout".
func getNestedValue(data map[string]any, path string) any {
	current := data
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[parts[len(parts)-1]]
}

// assign stores a decoded TOML value. Durations accept "500ms" or a
// number of seconds; numbers are accepted for string fields.
func assign(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		switch d := value.(type) {
		case string:
			return assignString(field, d)
		case int64:
			field.SetInt(d * int64(time.Second))
		case float64:
			field.SetInt(int64(d * float64(time.Second)))
		default:
			return mismatch(value, "duration")
		}
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		switch s := value.(type) {
		case string:
			field.SetString(s)
		case int64:
			field.SetString(strconv.FormatInt(s, 10))
		case float64:
			field.SetString(strconv.FormatFloat(s, 'f', -1, 64))
		default:
			return mismatch(value, "string")
		}
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return mismatch(value, "bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, ok := value.(int64)
		if !ok {
			return mismatch(value, "integer")
		}
		field.SetInt(i)
	case reflect.Slice:
		items, ok := value.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return mismatch(value, field.Type().String())
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return mismatch(item, "string")
			}
			list = append(list, s)
		}
		field.Set(reflect.ValueOf(list))
	}
	return nil
}

// assignString stores an environment value. Lists are comma separated.
func assignString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
	return nil
}

func mismatch(value any, want string) error {
	return fmt.Errorf("cannot use %T value %v as %s", value, value, want)
}

// ParseDuration accepts Go duration syntax or a plain number of seconds.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}

func defaultLoggingConfig() logging.Config {
	return logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
}

// LoadLoggingConfig is ReadLoggingConfig with defaults on any failure.
func LoadLoggingConfig(configPath string) logging.Config {
	if configPath == "" {
		return defaultLoggingConfig()
	}
	cfg, err := ReadLoggingConfig(configPath)
	if err != nil {
		return defaultLoggingConfig()
	}
	return cfg
}

// ReadLoggingConfig parses the [logging] table of a TOML file. Keys other
// than level and format are per-module levels.
func ReadLoggingConfig(configPath string) (logging.Config, error) {
	cfg := defaultLoggingConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	var file struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	for key, value := range file.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg, nil
}
