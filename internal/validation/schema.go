package validation

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"os"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// BuiltinNews names the embedded news schema.
const BuiltinNews = "news"

//go:embed schemas/*.json
var builtin embed.FS

// SchemaValidator validates items against one or more compiled JSON schemas.
type SchemaValidator struct {
	schemas []*jsonschema.Schema
}

// NewSchemaValidator compiles the named schemas. "news" (any case) resolves
// to the embedded schema; any other name is read from disk.
func NewSchemaValidator(names ...string) (*SchemaValidator, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one schema is required")
	}
	compiler := jsonschema.NewCompiler()
	v := &SchemaValidator{}
	for _, name := range names {
		raw, url, err := loadSchema(name)
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, errors.Wrapf(err, "add schema %s", name)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, errors.Wrapf(err, "compile schema %s", name)
		}
		v.schemas = append(v.schemas, schema)
	}
	return v, nil
}

func loadSchema(name string) ([]byte, string, error) {
	if strings.EqualFold(name, BuiltinNews) {
		raw, err := builtin.ReadFile("schemas/news.json")
		if err != nil {
			return nil, "", errors.Wrap(err, "read builtin schema")
		}
		return raw, "builtin://news.json", nil
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read schema %s", name)
	}
	return raw, name, nil
}

// Validate implements Validator.
func (v *SchemaValidator) Validate(_ context.Context, it *item.Item) (Report, error) {
	doc, err := toJSONValue(it)
	if err != nil {
		return nil, err
	}
	var report Report
	for _, schema := range v.schemas {
		err := schema.Validate(doc)
		if err == nil {
			continue
		}
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, errors.Wrap(err, "validate item")
		}
		report = append(report, flatten(ve)...)
	}
	return report, nil
}

// toJSONValue converts the item into the generic shape the schema library
// accepts, keeping numbers as json.Number.
func toJSONValue(it *item.Item) (any, error) {
	raw, err := it.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "encode item for validation")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode item for validation")
	}
	return doc, nil
}

func flatten(ve *jsonschema.ValidationError) Report {
	if len(ve.Causes) > 0 {
		var out Report
		for _, c := range ve.Causes {
			out = append(out, flatten(c)...)
		}
		return out
	}
	field := fieldPath(ve.InstanceLocation)
	if strings.HasSuffix(ve.KeywordLocation, "/required") {
		return splitRequired(field, ve.Message)
	}
	return Report{{Field: field, Message: ve.Message}}
}

// splitRequired turns "missing properties: 'a', 'b'" into one failure per
// property.
func splitRequired(parent, msg string) Report {
	_, list, ok := strings.Cut(msg, ": ")
	if !ok {
		return Report{{Field: parent, Message: msg}}
	}
	names := strings.Split(list, ", ")
	slices.Sort(names)
	out := make(Report, 0, len(names))
	for _, n := range names {
		n = strings.Trim(n, "'")
		field := n
		if parent != "" {
			field = parent + "." + n
		}
		out = append(out, Failure{Field: field, Message: "missing required field"})
	}
	return out
}

func fieldPath(loc string) string {
	loc = strings.TrimPrefix(loc, "/")
	return strings.ReplaceAll(loc, "/", ".")
}
