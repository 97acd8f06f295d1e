package contracts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/cloudevents"
)

//go:embed asyncapi.yaml
var asyncAPISpec []byte

// eventTypeExtension maps a component schema to the event type it describes.
const eventTypeExtension = "x-event-type"

type asyncAPIDocument struct {
	Components struct {
		Schemas map[string]map[string]any `yaml:"schemas"`
	} `yaml:"components"`
}

// EventValidator validates event payloads against the AsyncAPI document.
type EventValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewEventValidator compiles the embedded AsyncAPI document.
func NewEventValidator() (*EventValidator, error) {
	return NewEventValidatorFromBytes(asyncAPISpec)
}

// NewEventValidatorFromBytes compiles every component schema carrying an
// x-event-type extension.
func NewEventValidatorFromBytes(spec []byte) (*EventValidator, error) {
	var doc asyncAPIDocument
	if err := yaml.Unmarshal(spec, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse AsyncAPI spec: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()

	schemas := make(map[string]*jsonschema.Schema)
	for name, schema := range doc.Components.Schemas {
		eventType, _ := schema[eventTypeExtension].(string)
		if eventType == "" {
			continue
		}

		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema %s: %w", name, err)
		}
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode schema %s: %w", name, err)
		}

		uri := "asyncapi://schemas/" + name
		if err := compiler.AddResource(uri, parsed); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		compiled, err := compiler.Compile(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		schemas[eventType] = compiled
	}

	return &EventValidator{schemas: schemas}, nil
}

// Validate checks a JSON payload of the given event type.
func (v *EventValidator) Validate(eventType string, payload []byte) error {
	schema, ok := v.schemas[eventType]
	if !ok {
		return fmt.Errorf("no schema found for event type: %s", eventType)
	}

	data, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("payload validation failed for %s: %w", eventType, err)
	}
	return nil
}

// HasSchema checks if a schema exists for the given event type.
func (v *EventValidator) HasSchema(eventType string) bool {
	_, ok := v.schemas[eventType]
	return ok
}

// DecodeLabelUploaded validates and decodes a label uploaded payload.
func (v *EventValidator) DecodeLabelUploaded(payload []byte) (domain.LabelUploadedMessage, error) {
	var msg domain.LabelUploadedMessage
	if err := v.Validate(cloudevents.LabelUploaded, payload); err != nil {
		return msg, err
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode label uploaded payload: %w", err)
	}
	return msg, nil
}
