package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Values is a flat key/value settings store.
type Values map[string]any

// Get returns the value stored under key.
func (v Values) Get(key string) (any, bool) {
	val, ok := v[key]
	return val, ok
}

// String returns the value under key if it is a string.
func (v Values) String(key string) (string, bool) {
	s, ok := v[key].(string)
	return s, ok
}

// Set stores value under key.
func (v *Values) Set(key string, value any) {
	if *v == nil {
		*v = make(Values)
	}
	(*v)[key] = value
}

// Merge reads a YAML (or JSON) document from path into v, overwriting
// existing keys. A missing file is not an error.
func (v *Values) Merge(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read values file: %w", err)
	}

	var loaded map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &loaded); err != nil {
		return fmt.Errorf("parse values: %w", err)
	}

	for k, val := range loaded {
		v.Set(k, val)
	}
	return nil
}

// LoadValues reads a values file. A missing file yields an empty store.
func LoadValues(path string) (Values, error) {
	v := Values{}
	if err := v.Merge(path); err != nil {
		return nil, err
	}
	return v, nil
}
