package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const registerSchema = `{
	"type": "object",
	"required": ["url", "api_key", "api_secret"],
	"properties": {
		"name": {"type": "string", "maxLength": 200},
		"url": {"type": "string", "minLength": 1},
		"api_key": {"type": "string", "minLength": 1},
		"api_secret": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

const configSchema = `{
	"type": "object",
	"required": ["section", "key", "value"],
	"properties": {
		"section": {"enum": ["general", "logging", "queries"]},
		"key": {"type": "string", "pattern": "^[a-z_]+$"},
		"value": {"type": ["string", "number", "boolean"]}
	},
	"additionalProperties": false
}`

const querySchema = `{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string", "minLength": 1}
	}
}`

const statusSchema = `{
	"type": "object",
	"properties": {
		"uuid": {"type": "string"}
	}
}`

type schema = *jsonschema.Schema

// validator checks request bodies against compiled JSON Schemas.
type validator struct {
	register schema
	config   schema
	query    schema
	status   schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	compile := func(name, src string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", name, err)
		}
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		return c.Compile(name + ".json")
	}

	v := &validator{}
	var err error
	if v.register, err = compile("register", registerSchema); err != nil {
		return nil, err
	}
	if v.config, err = compile("config", configSchema); err != nil {
		return nil, err
	}
	if v.query, err = compile("query", querySchema); err != nil {
		return nil, err
	}
	if v.status, err = compile("status", statusSchema); err != nil {
		return nil, err
	}
	return v, nil
}

// validate checks body against s. An empty body is validated as an empty object.
func validate(s schema, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.Validate(inst); err != nil {
		return err
	}
	return nil
}
