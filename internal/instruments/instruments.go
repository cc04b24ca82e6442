// Package instruments loads rule tables: the embedded built-ins and files on disk.
//
// Rule predicates are CEL expressions over the table's variables. Continuous
// variables are doubles, so equality against them needs a decimal literal
// (gcs == 15.0); ordering accepts either form (gcs <= 8). A continuous value
// with a step must sit on the grid min, min+step, min+2*step.
package instruments

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opensource-clinical/bedside/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// LoadBuiltin loads a built-in instrument by id.
func LoadBuiltin(id string) (*domain.Instrument, error) {
	data, err := builtinFS.ReadFile("builtin/" + id + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("instruments.LoadBuiltin: %w: %q", domain.ErrUnknownInstrument, id)
	}
	inst, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("instruments.LoadBuiltin: parse %q: %w", id, err)
	}
	return inst, nil
}

// List returns the ids of all built-in instruments, sorted.
func List() ([]string, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); strings.HasSuffix(n, ".yaml") {
			ids = append(ids, strings.TrimSuffix(n, ".yaml"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// All loads every built-in instrument, or only those named in ids when non-empty.
func All(ids ...string) ([]*domain.Instrument, error) {
	if len(ids) == 0 {
		var err error
		if ids, err = List(); err != nil {
			return nil, err
		}
	}
	out := make([]*domain.Instrument, 0, len(ids))
	for _, id := range ids {
		inst, err := LoadBuiltin(id)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Parse decodes a rule table from JSON or YAML. JSON is recognised by a leading
// brace and decoded with the JSON field names; anything else is YAML.
func Parse(data []byte) (*domain.Instrument, error) {
	var inst domain.Instrument
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&inst); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return &inst, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&inst); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &inst, nil
}

// LoadFile reads and parses one rule table file.
func LoadFile(path string) (*domain.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("instruments.LoadFile: %w", err)
	}
	inst, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("instruments.LoadFile: %s: %w", path, err)
	}
	return inst, nil
}

// LoadDir parses every .yaml, .yml and .json file in dir, in name order.
func LoadDir(dir string) ([]*domain.Instrument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("instruments.LoadDir: %w", err)
	}
	var out []*domain.Instrument
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		inst, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Marshal encodes an instrument as YAML, the authoring format.
func Marshal(inst *domain.Instrument) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(inst); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
