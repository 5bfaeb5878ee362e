// Package codec serializes persisted store values.
//
// A persisted value is a StorageValue: the (filtered) state plus the version
// it was written at. The JSON codec produces the canonical wire format
//
//	{"state": {...}, "version": 1}
//
// YAML and TOML codecs write the same two fields in their own syntax. After
// decoding, State holds the codec's generic form of the value (maps, slices
// and scalars), which callers convert back into their state type.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// StorageValue is what gets written to storage.
type StorageValue struct {
	State   any `json:"state" yaml:"state" toml:"state"`
	Version int `json:"version" yaml:"version" toml:"version"`
}

// Codec converts StorageValues to and from text.
type Codec interface {
	Marshal(v StorageValue) (string, error)
	Unmarshal(data string) (StorageValue, error)
}

// Funcs adapts a pair of functions to Codec.
type Funcs struct {
	MarshalFunc   func(v StorageValue) (string, error)
	UnmarshalFunc func(data string) (StorageValue, error)
}

// Marshal implements Codec.
func (f Funcs) Marshal(v StorageValue) (string, error) { return f.MarshalFunc(v) }

// Unmarshal implements Codec.
func (f Funcs) Unmarshal(data string) (StorageValue, error) { return f.UnmarshalFunc(data) }

type jsonCodec struct{}

// JSON is the default codec.
var JSON Codec = jsonCodec{}

func (jsonCodec) Marshal(v StorageValue) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: json marshal: %w", err)
	}
	return string(data), nil
}

func (jsonCodec) Unmarshal(data string) (StorageValue, error) {
	var v StorageValue
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return StorageValue{}, fmt.Errorf("codec: json unmarshal: %w", err)
	}
	return v, nil
}

type yamlCodec struct{}

// YAML writes storage values as YAML documents.
var YAML Codec = yamlCodec{}

func (yamlCodec) Marshal(v StorageValue) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: yaml marshal: %w", err)
	}
	return string(data), nil
}

func (yamlCodec) Unmarshal(data string) (StorageValue, error) {
	var v StorageValue
	if err := yaml.Unmarshal([]byte(data), &v); err != nil {
		return StorageValue{}, fmt.Errorf("codec: yaml unmarshal: %w", err)
	}
	return v, nil
}

type tomlCodec struct{}

// TOML writes storage values as TOML documents. The state must encode to a
// TOML value; a nil state is written as an empty table.
var TOML Codec = tomlCodec{}

func (tomlCodec) Marshal(v StorageValue) (string, error) {
	if v.State == nil {
		v.State = map[string]any{}
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(v); err != nil {
		return "", fmt.Errorf("codec: toml marshal: %w", err)
	}
	return b.String(), nil
}

func (tomlCodec) Unmarshal(data string) (StorageValue, error) {
	var v StorageValue
	if err := toml.Unmarshal([]byte(data), &v); err != nil {
		return StorageValue{}, fmt.Errorf("codec: toml unmarshal: %w", err)
	}
	return v, nil
}

// Lookup returns the codec registered under name ("json", "yaml" or "toml").
// Names are case-insensitive; an empty name selects JSON.
func Lookup(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "toml":
		return TOML, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}
