package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/starford/leetlab/internal/models"
)

// ErrInvalidMeta is returned when a sidecar does not satisfy the meta schema.
var ErrInvalidMeta = errors.New("invalid meta")

//go:embed schema/meta.schema.json
var metaSchemaBytes []byte

var (
	metaSchema     *jsonschema.Schema
	metaSchemaOnce sync.Once
	metaSchemaErr  error
	printer        = message.NewPrinter(language.English)
)

func compiledMetaSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(metaSchemaBytes))
		if err != nil {
			metaSchemaErr = fmt.Errorf("registry: unmarshal meta schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("meta.schema.json", doc); err != nil {
			metaSchemaErr = fmt.Errorf("registry: add meta schema: %w", err)
			return
		}
		metaSchema, metaSchemaErr = c.Compile("meta.schema.json")
		if metaSchemaErr != nil {
			metaSchemaErr = fmt.Errorf("registry: compile meta schema: %w", metaSchemaErr)
		}
	})
	return metaSchema, metaSchemaErr
}

// ParseMeta decodes and validates a meta.yaml sidecar. Empty input (or a
// document holding only comments) means "no metadata" and yields nil, nil.
func ParseMeta(data []byte) (*models.Meta, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("registry: parse meta: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	raw = normalizeYAML(raw)

	schema, err := compiledMetaSchema()
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON so numbers reach the validator as json.Number.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: convert meta: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("registry: convert meta: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("registry: %w: %s", ErrInvalidMeta, strings.Join(metaIssues(ve), "; "))
		}
		return nil, fmt.Errorf("registry: validate meta: %w", err)
	}

	fields := raw.(map[string]any)
	meta := &models.Meta{}
	if v, ok := fields["title"].(string); ok {
		meta.Title = &v
	}
	if v, ok := fields["date"].(string); ok {
		meta.Date = &v
	}
	if list, ok := fields["tags"].([]any); ok {
		meta.Tags = make([]string, 0, len(list))
		for _, item := range list {
			meta.Tags = append(meta.Tags, item.(string))
		}
	}
	return meta, nil
}

// metaIssues flattens a validation error tree into "path: message" strings.
func metaIssues(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			msg := e.Error()
			if e.ErrorKind != nil {
				msg = e.ErrorKind.LocalizedString(printer)
			}
			out = append(out, loc+": "+msg)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}

// normalizeYAML converts decoded YAML into JSON-compatible values. Unquoted
// dates come back from the decoder as time.Time and are rendered back to
// YYYY-MM-DD.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = normalizeYAML(item)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return m
	case []any:
		a := make([]any, len(val))
		for i, item := range val {
			a[i] = normalizeYAML(item)
		}
		return a
	case time.Time:
		return val.Format(time.DateOnly)
	default:
		return val
	}
}
