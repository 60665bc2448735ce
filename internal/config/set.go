package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Get returns the value of section.key, e.g. ("general", "gc_datapile_size").
func (c *Config) Get(section, key string) (any, error) {
	f, err := c.field(section, key)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// Set assigns section.key from a string, bool, or number, converting to the field's type.
func (c *Config) Set(section, key string, value any) error {
	f, err := c.field(section, key)
	if err != nil {
		return err
	}

	raw := fmt.Sprint(value)
	switch f.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s.%s: expected a boolean, got %q", section, key, raw)
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := parseInteger(raw)
		if err != nil {
			return fmt.Errorf("%s.%s: expected an integer, got %q", section, key, raw)
		}
		if n < 0 {
			return fmt.Errorf("%s.%s: must not be negative", section, key)
		}
		f.SetInt(n)
	case reflect.String:
		f.SetString(raw)
	default:
		return fmt.Errorf("%s.%s: unsupported field type %s", section, key, f.Kind())
	}
	return nil
}

// parseInteger accepts plain integers and float notation with no fractional part (3e5).
func parseInteger(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return int64(f), nil
}

func (c *Config) field(section, key string) (reflect.Value, error) {
	root := reflect.ValueOf(c).Elem()
	sec, ok := lookupTag(root, section)
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown config section %q", section)
	}
	f, ok := lookupTag(sec, key)
	if !ok {
		return reflect.Value{}, fmt.Errorf("unknown config option %s.%s", section, key)
	}
	return f, nil
}

func lookupTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag == name && t.Field(i).IsExported() {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
