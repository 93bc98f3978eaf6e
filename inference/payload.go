package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/multierr"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"healthai/ml"
)

const directSchemaJSON = `{
  "type": "object",
  "required": ["Age", "Sodium", "Creatinine", "Urea"],
  "properties": {
    "Age": {"type": "number"},
    "Sodium": {"type": "number"},
    "Creatinine": {"type": "number"},
    "Urea": {"type": "number"}
  }
}`

const metricsSchemaJSON = `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string"},
    "metrics": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "Age": {"type": ["number", "null"]},
          "Sodium": {"type": ["number", "null"]},
          "Creatinine": {"type": ["number", "null"]},
          "Urea": {"type": ["number", "null"]}
        }
      }
    }
  }
}`

var (
	directSchema  = mustCompileSchema(directSchemaJSON, "patient_features.schema.json")
	metricsSchema = mustCompileSchema(metricsSchemaJSON, "patient_metrics.schema.json")

	schemaPrinter = message.NewPrinter(language.English)
)

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return schema
}

// Request is a normalized /predict payload.
type Request struct {
	Features  ml.PatientFeatures
	PatientID string
}

func (r Request) Vector() []float64 {
	return ml.FeatureVector(r.Features)
}

type metricRecord struct {
	Age        *float64 `mapstructure:"Age"`
	Sodium     *float64 `mapstructure:"Sodium"`
	Creatinine *float64 `mapstructure:"Creatinine"`
	Urea       *float64 `mapstructure:"Urea"`
}

type metricsPayload struct {
	PatientID string         `mapstructure:"patient_id"`
	Metrics   []metricRecord `mapstructure:"metrics"`
}

// DecodeRequest accepts either the flat feature object or the
// {patient_id, metrics} form. The flat form wins when both would parse.
func DecodeRequest(body []byte) (Request, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Request{}, &ValidationError{Err: fmt.Errorf("body: invalid JSON: %w", err)}
	}

	direct, directErr := decodeDirect(doc)
	if directErr == nil {
		return direct, nil
	}
	metrics, metricsErr := decodeMetrics(doc)
	if metricsErr == nil {
		return metrics, nil
	}
	return Request{}, &ValidationError{Err: multierr.Combine(directErr, metricsErr)}
}

func decodeDirect(doc any) (Request, error) {
	if err := validate(directSchema, doc, "features"); err != nil {
		return Request{}, err
	}
	var features ml.PatientFeatures
	if err := decode(doc, &features); err != nil {
		return Request{}, fmt.Errorf("features: %w", err)
	}
	return Request{Features: features}, nil
}

// decodeMetrics takes each feature from the first record carrying a non-null
// value for it; a feature no record carries is 0.
func decodeMetrics(doc any) (Request, error) {
	if err := validate(metricsSchema, doc, "metrics"); err != nil {
		return Request{}, err
	}
	var payload metricsPayload
	if err := decode(doc, &payload); err != nil {
		return Request{}, fmt.Errorf("metrics: %w", err)
	}

	first := func(pick func(metricRecord) *float64) float64 {
		for _, record := range payload.Metrics {
			if v := pick(record); v != nil {
				return *v
			}
		}
		return 0
	}
	return Request{
		PatientID: payload.PatientID,
		Features: ml.PatientFeatures{
			Age:        first(func(r metricRecord) *float64 { return r.Age }),
			Sodium:     first(func(r metricRecord) *float64 { return r.Sodium }),
			Creatinine: first(func(r metricRecord) *float64 { return r.Creatinine }),
			Urea:       first(func(r metricRecord) *float64 { return r.Urea }),
		},
	}, nil
}

func decode(doc any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: numberHook,
		Result:     out,
		TagName:    "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(doc)
}

// numberHook turns the json.Number values kept by the schema decoder into
// float64 before mapstructure assigns them.
func numberHook(from, to reflect.Type, data any) (any, error) {
	if n, ok := data.(json.Number); ok {
		return n.Float64()
	}
	return data, nil
}

func validate(schema *jsonschema.Schema, doc any, shape string) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("%s: %w", shape, err)
	}
	var errs []error
	collectSchemaErrors(ve, shape, &errs)
	return multierr.Combine(errs...)
}

func collectSchemaErrors(ve *jsonschema.ValidationError, shape string, errs *[]error) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Errorf("%s %s: %s", shape, loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, shape, errs)
	}
}
