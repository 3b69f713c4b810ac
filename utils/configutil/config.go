// Package configutil loads YAML configuration files. A file may name a base
// file through an `extends` directive; bases are loaded first and the
// extending file is deep-merged over them. Extends chains form a list, not a
// tree, and cycles are rejected.
//
// Merge semantics follow YAML unmarshalling into a shared struct: maps merge
// key by key, scalars and arrays from later files replace earlier values.
package configutil

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"

	"github.com/peerhub/peerhub/utils/stringset"
)

// ErrCycleRef is returned when extends directives form a cycle.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

type extends struct {
	Extends string `yaml:"extends"`
}

// ValidationError is returned when the merged configuration fails struct
// validation.
type ValidationError struct {
	errorMap validator.ErrorMap
}

// ErrForField returns the validation error for the given field.
func (e ValidationError) ErrForField(name string) error {
	return e.errorMap[name]
}

func (e ValidationError) Error() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "validation failed")
	for f, err := range e.errorMap {
		fmt.Fprintf(&b, "   %s: %v\n", f, err)
	}
	return b.String()
}

// Load reads filename and every file it extends into config, base files
// first, then validates the merged result.
func Load(filename string, config interface{}) error {
	chain, err := resolveExtends(filename)
	if err != nil {
		return err
	}
	for _, f := range chain {
		data, err := ioutil.ReadFile(f)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("unmarshal %s: %s", f, err)
		}
	}
	if err := validator.Validate(config); err != nil {
		return ValidationError{errorMap: err.(validator.ErrorMap)}
	}
	return nil
}

// resolveExtends returns the chain of files to load, most-base first.
func resolveExtends(filename string) ([]string, error) {
	chain := []string{filename}
	seen := make(stringset.Set)
	for {
		base, err := readExtend(filename)
		if err != nil {
			return nil, err
		}
		if base == "" {
			return chain, nil
		}
		// Relative extends paths resolve against the extending file.
		if !filepath.IsAbs(base) {
			base = filepath.Join(filepath.Dir(filename), base)
		}
		if seen.Has(base) {
			return nil, ErrCycleRef
		}
		seen.Add(base)
		chain = append([]string{base}, chain...)
		filename = base
	}
}

func readExtend(filename string) (string, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return "", err
	}
	var e extends
	if err := yaml.Unmarshal(data, &e); err != nil {
		return "", fmt.Errorf("unmarshal %s: %s", filename, err)
	}
	return e.Extends, nil
}
