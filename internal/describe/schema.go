package describe

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/dialect"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://thingcheck.local/schemas/"

var schemaFiles = map[dialect.Name]string{
	dialect.Webthings: "webthings.json",
	dialect.WoT:       "wot.json",
}

// CompileStructure compiles the structural schema of a dialect's
// description document.
func CompileStructure(d *dialect.Dialect) (*jsonschema.Schema, error) {
	name, ok := schemaFiles[d.Name()]
	if !ok {
		return nil, fmt.Errorf("no description schema for dialect %s", d.Name())
	}
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read description schema: %w", err)
	}
	return CompileSchema(schemaBase+name, data)
}

// CompileSchema compiles an in-memory JSON schema document.
func CompileSchema(url string, data []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// CompileValue compiles a schema held as a decoded JSON value.
func CompileValue(url string, schema any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return CompileSchema(url, data)
}

// ValidateValue validates a decoded JSON value and converts the first
// violation into a labeled schema failure rooted at field.
func ValidateValue(schema *jsonschema.Schema, field string, v any) error {
	err := schema.Validate(v)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return check.Schemaf(field, "%v", err)
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return check.Within(field, check.Schemaf(pointerToPath(leaf.InstanceLocation), "%s", leaf.Message))
}

// pointerToPath converts a JSON pointer into a dotted field path.
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
