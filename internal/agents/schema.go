// Package agents implements the two model-backed pipeline stages: the query
// analyzer, which turns a question into a retrieval plan, and the answer
// agent, which synthesizes a cited answer from ranked evidence.
//
// Both stages request JSON from the model, validate it with struct tags and
// grounding checks, retry once with a correction instruction, and degrade to
// a well-formed fallback instead of failing the request.
package agents

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SchemaValidationError reports a model output that failed validation.
type SchemaValidationError struct {
	Stage    string
	Attempt  int
	Problems []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s output failed validation (attempt %d): %s", e.Stage, e.Attempt, strings.Join(e.Problems, "; "))
}

var validate = newValidator()

// newValidator reports fields by their JSON names so that correction
// instructions use the names the model produced.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// problems flattens validator errors into short messages keyed by the JSON
// field name.
func problems(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonName(fe)
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", field))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value()))
		case "gte", "min":
			out = append(out, fmt.Sprintf("%s must be >= %s", field, fe.Param()))
		case "lte", "max":
			out = append(out, fmt.Sprintf("%s must be <= %s", field, fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return out
}

func jsonName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}
