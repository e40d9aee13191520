// Package conf provides the dynamic configuration structures used to build
// storage drivers, middleware hooks and frontends from a YAML file.
package conf

import (
	"errors"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ErrNilConfigMap returned if unmarshalled configuration map is nil
var ErrNilConfigMap = errors.New("unable to process nil map")

// MapConfig is a raw configuration subtree. Typed configuration structures
// are extracted from it with Unmarshal; fields are matched by the `cfg` tag.
type MapConfig map[string]any

// NamedConfig is a MapConfig with a driver name attached, used to select
// a registered builder.
type NamedConfig struct {
	Name   string    `cfg:"name"`
	Config MapConfig `cfg:"config"`
}

// Unmarshal decodes the map into the provided structure.
// String values are converted to time.Duration where the target field
// requires it ("1m30s"-style values in the YAML file).
func (mc MapConfig) Unmarshal(into any) error {
	if mc == nil {
		return ErrNilConfigMap
	}
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		WeaklyTypedInput: true,
		TagName:          "cfg",
		Result:           into,
	})
	if err != nil {
		return err
	}
	return d.Decode(map[string]any(mc))
}

// Duration unwraps a single duration value from the map, used by code that
// only needs one knob and not a full structure.
func (mc MapConfig) Duration(key string, def time.Duration) (time.Duration, error) {
	v, found := mc[key]
	if !found {
		return def, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		return time.ParseDuration(t)
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	default:
		return def, errors.New("unsupported duration value")
	}
}
