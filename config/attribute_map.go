package config

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a convenience wrapper around the loosely-typed nested
// parameter blocks found in robot parameter files.
type AttributeMap map[string]interface{}

// Has returns whether the key is present.
func (am AttributeMap) Has(name string) bool {
	_, ok := am[name]
	return ok
}

// Float64 returns the value at name as a float64, or def when absent.
func (am AttributeMap) Float64(name string, def float64) float64 {
	if v, ok := am[name]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// Bool returns the value at name as a bool, or def when absent.
func (am AttributeMap) Bool(name string, def bool) bool {
	if v, ok := am[name]; ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return def
}

// String returns the value at name as a string, or empty when absent.
func (am AttributeMap) String(name string) string {
	if v, ok := am[name]; ok {
		if s, isStr := v.(string); isStr {
			return s
		}
	}
	return ""
}

// TransformAttributeMapToStruct decodes an attribute map into a typed struct
// using its json tags, so nested parameter blocks become validated records
// instead of being read ad hoc at each call site.
func TransformAttributeMapToStruct(to interface{}, attributes AttributeMap) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   to,
		Metadata: &md,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return err
	}
	if len(md.Unused) != 0 {
		return errors.Errorf("unknown parameters: %v", md.Unused)
	}
	return nil
}
