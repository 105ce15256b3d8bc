// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"os"
	"reflect"
	"sync"
)

// JSONOutput is embedded in a params struct to add the --json flag and
// [JSONOutput.EmitJSON].
//
//	type inspectParams struct {
//	    cli.JSONOutput
//	    Algorithm string `flag:"checksum" desc:"checksum algorithm"`
//	}
//
//	if done, err := params.EmitJSON(report); done {
//	    return err
//	}
type JSONOutput struct {
	OutputJSON bool `json:"-" flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result as indented JSON to stdout if --json is set.
// It returns false when the caller should print text instead. Nil
// slices are written as [].
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(normalizeNilSlice(result))
}

// WriteJSON writes value as indented JSON to stdout.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// normalizeNilSlice turns a nil slice into an empty one of the same
// type so it serializes as [] instead of null.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}

// JSONLines writes one compact JSON document per line. Safe for
// concurrent use; the first write error is kept and later writes are
// dropped.
type JSONLines struct {
	mu      sync.Mutex
	encoder *json.Encoder
	err     error
}

// NewJSONLines returns a JSONLines writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{encoder: json.NewEncoder(w)}
}

// Write encodes value as one line.
func (j *JSONLines) Write(value any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return
	}
	j.err = j.encoder.Encode(value)
}

// Err returns the first write error.
func (j *JSONLines) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
