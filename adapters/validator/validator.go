// Package validator implements es.Validator over
// go-playground/validator/v10: each event type is registered against
// a Go struct carrying `validate` tags, and payloads are checked by
// round-tripping them through that struct.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	playground "github.com/go-playground/validator/v10"
)

// Validator is an es.Validator backed by a schema registry keyed by
// event type.
type Validator struct {
	v *playground.Validate

	mu      sync.RWMutex
	schemas map[string]reflect.Type
}

// New constructs an empty Validator; register schemas with Register
// before use.
func New() *Validator {
	v := playground.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v, schemas: make(map[string]reflect.Type)}
}

// Register associates eventType with the schema struct type of
// example (a zero value is fine; only its type is used).
func (va *Validator) Register(eventType string, example interface{}) {
	va.mu.Lock()
	defer va.mu.Unlock()
	va.schemas[eventType] = reflect.TypeOf(example)
}

// Validate decodes payload into the registered schema for eventType
// and runs struct validation. Event types with no registered schema
// pass unconditionally — the core treats payloadSchema as optional.
func (va *Validator) Validate(ctx context.Context, eventType string, payload map[string]interface{}) error {
	va.mu.RLock()
	schemaType, ok := va.schemas[eventType]
	va.mu.RUnlock()
	if !ok {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	instance := reflect.New(schemaType).Interface()
	if err := json.Unmarshal(raw, instance); err != nil {
		return fmt.Errorf("decode payload into schema: %w", err)
	}

	if err := va.v.Struct(instance); err != nil {
		if validationErrs, ok := err.(playground.ValidationErrors); ok {
			var messages []string
			for _, fe := range validationErrs {
				messages = append(messages, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
			}
			return es.NewError("validator.Validate", es.KindInvalidInput, strings.Join(messages, "; "), err)
		}
		return es.NewError("validator.Validate", es.KindInvalidInput, "validation failed", err)
	}

	return nil
}
