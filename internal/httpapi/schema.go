// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

const schemaBaseURL = "https://storefront.local/schemas/"

type registerRequest struct {
	Username    string `json:"username" jsonschema:"minLength=1,maxLength=30"`
	Email       string `json:"email" jsonschema:"minLength=1,maxLength=254"`
	Password    string `json:"password" jsonschema:"minLength=1,maxLength=128"`
	FirstName   string `json:"first_name,omitempty" jsonschema:"maxLength=100"`
	LastName    string `json:"last_name,omitempty" jsonschema:"maxLength=100"`
	Avatar      string `json:"avatar,omitempty" jsonschema:"maxLength=2048"`
	BirthOfDate string `json:"birth_of_date,omitempty" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$"`
	PhoneNumber string `json:"phone_number,omitempty" jsonschema:"maxLength=32"`
}

type loginRequest struct {
	Email    string `json:"email" jsonschema:"maxLength=254"`
	Password string `json:"password" jsonschema:"maxLength=128"`
}

type requestOTPRequest struct {
	Email string `json:"email" jsonschema:"minLength=1,maxLength=254"`
}

type loginWithOTPRequest struct {
	Email string `json:"email" jsonschema:"maxLength=254"`
	OTP   string `json:"otp" jsonschema:"maxLength=16"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" jsonschema:"maxLength=254"`
	OTP         string `json:"otp" jsonschema:"maxLength=16"`
	NewPassword string `json:"new_password" jsonschema:"minLength=1,maxLength=128"`
}

// requestBodies names each request body schema. Names double as schema IDs.
var requestBodies = []struct {
	name  string
	value any
}{
	{"register", &registerRequest{}},
	{"login", &loginRequest{}},
	{"request-otp", &requestOTPRequest{}},
	{"login-with-otp", &loginWithOTPRequest{}},
	{"reset-password-with-otp", &resetPasswordRequest{}},
}

// requestSchemas holds the compiled schema of each request body.
type requestSchemas struct {
	register     *jschema.Schema
	login        *jschema.Schema
	requestOTP   *jschema.Schema
	loginWithOTP *jschema.Schema
	reset        *jschema.Schema
}

func reflectSchema(name string, v any) *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(v)
	s.ID = jsonschema.ID(schemaBaseURL + name + ".json")
	return s
}

// GenerateSchemas returns the JSON Schema of every API request body, keyed by
// schema name.
func GenerateSchemas() (map[string][]byte, error) {
	out := make(map[string][]byte, len(requestBodies))
	for _, b := range requestBodies {
		s := reflectSchema(b.name, b.value)
		s.Title = "Storefront " + b.name + " request"
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, oops.Code("HTTPAPI_SCHEMA_FAILED").With("schema", b.name).Wrap(err)
		}
		out[b.name] = data
	}
	return out, nil
}

func compileRequestSchemas() (*requestSchemas, error) {
	c := jschema.NewCompiler()
	compiled := make(map[string]*jschema.Schema, len(requestBodies))
	for _, b := range requestBodies {
		s := reflectSchema(b.name, b.value)
		data, err := json.Marshal(s)
		if err != nil {
			return nil, oops.Code("HTTPAPI_SCHEMA_FAILED").With("schema", b.name).Wrap(err)
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, oops.Code("HTTPAPI_SCHEMA_FAILED").With("schema", b.name).Wrap(err)
		}
		if err := c.AddResource(string(s.ID), doc); err != nil {
			return nil, oops.Code("HTTPAPI_SCHEMA_FAILED").With("schema", b.name).Wrap(err)
		}
		sch, err := c.Compile(string(s.ID))
		if err != nil {
			return nil, oops.Code("HTTPAPI_SCHEMA_FAILED").With("schema", b.name).Wrap(err)
		}
		compiled[b.name] = sch
	}
	return &requestSchemas{
		register:     compiled["register"],
		login:        compiled["login"],
		requestOTP:   compiled["request-otp"],
		loginWithOTP: compiled["login-with-otp"],
		reset:        compiled["reset-password-with-otp"],
	}, nil
}

// decodeBody reads the request body, validates it against schema and decodes
// it into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jschema.Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return oops.Code("HTTPAPI_BODY_UNREADABLE").Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oops.Code("HTTPAPI_BODY_INVALID_JSON").Wrap(err)
	}
	if err := schema.Validate(doc); err != nil {
		return oops.Code("HTTPAPI_BODY_INVALID").Wrap(err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code("HTTPAPI_BODY_INVALID").Wrap(err)
	}
	return nil
}
