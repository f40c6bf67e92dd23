// Package validation compiles the embedded JSON Schemas that guard
// documents read from outside the process.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles raw JSON Schema text registered under name.
func CompileSchema(raw string, name string) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(raw), &schemaDoc); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		return nil, errors.Wrapf(err, "add %s resource", name)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "compile %s", name)
	}
	return sch, nil
}

// MustCompileSchema is CompileSchema for package-level schemas; it panics
// on malformed input.
func MustCompileSchema(raw string, name string) *jsonschema.Schema {
	sch, err := CompileSchema(raw, name)
	if err != nil {
		panic(fmt.Sprintf("embedded schema: %v", err))
	}
	return sch
}
