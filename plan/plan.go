// Package plan defines the test plan: the ordered collection of test cases
// that a conveyor run dispatches, plus the result and warning payloads that
// workers produce for them. The master addresses tests by integer index into
// the plan's collection, so the ordering here is part of the protocol.
package plan

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

// Descriptor identifies a single test case. Two descriptors are the same
// test iff all three fields are equal.
type Descriptor struct {
	// FilePath is the path of the file defining the test, relative to the
	// tested project's root.
	FilePath string `json:"file"`
	// FunctionName is the name of the test function within that file.
	FunctionName string `json:"function"`
	// VariationID distinguishes parametrized variations of the same
	// function. Empty for unparametrized tests.
	VariationID string `json:"variation,omitempty"`
}

func (d Descriptor) String() string {
	if d.VariationID == "" {
		return d.FilePath + "::" + d.FunctionName
	}
	return d.FilePath + "::" + d.FunctionName + "[" + d.VariationID + "]"
}

// Tuple returns the wire form used for collection cross-validation.
func (d Descriptor) Tuple() []string {
	return []string{d.FilePath, d.FunctionName, d.VariationID}
}

// Collection is an ordered sequence of test descriptors. Order is
// significant: dispatch indexes refer to positions in this sequence.
type Collection []Descriptor

// Tuples returns the full collection in wire form, preserving order.
func (c Collection) Tuples() [][]string {
	tuples := make([][]string, len(c))
	for i, d := range c {
		tuples[i] = d.Tuple()
	}
	return tuples
}

// FromTuples rebuilds a collection from its wire form. Tuples shorter than
// three elements are an error since they cannot name a test.
func FromTuples(tuples [][]string) (Collection, error) {
	c := make(Collection, len(tuples))
	for i, tuple := range tuples {
		if len(tuple) != 3 {
			return nil, fmt.Errorf("tuple %v has %v elements, expected 3", i, len(tuple))
		}
		c[i] = Descriptor{
			FilePath:     tuple[0],
			FunctionName: tuple[1],
			VariationID:  tuple[2],
		}
	}
	return c, nil
}

// Plan is the parsed form of a plan file.
type Plan struct {
	// Name is an optional human-readable label for the run.
	Name string `json:"name,omitempty"`
	// Tests is the ordered collection to dispatch.
	Tests Collection `json:"tests"`
}

// Schema is the json schema that plan files must conform to. Plan files may
// be written in YAML or JSON; YAML is converted to JSON before validation.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Conveyor test plan",
  "type": "object",
  "additionalProperties": false,
  "required": ["tests"],
  "properties": {
    "name": {
      "type": "string"
    },
    "tests": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["file", "function"],
        "properties": {
          "file": {
            "type": "string",
            "minLength": 1
          },
          "function": {
            "type": "string",
            "minLength": 1
          },
          "variation": {
            "type": "string"
          }
        }
      }
    }
  }
}`

// Parse validates data against Schema and unmarshals it. data may be YAML
// or JSON.
func Parse(data []byte) (*Plan, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("plan is not valid YAML/JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(Schema)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		errorText := "plan does not conform to the plan schema:"
		for _, desc := range result.Errors() {
			errorText += fmt.Sprintf("\n- %s", desc)
		}
		return nil, fmt.Errorf("%s", errorText)
	}

	p := new(Plan)
	if err := yaml.Unmarshal(jsonData, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseFile reads and parses the plan file at path.
func ParseFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read plan file %v: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan file %v: %w", path, err)
	}
	return p, nil
}
