// Package checkers holds the service checker registry: one variant per
// external-service category, each wrapping the remote-call semantics of its
// category and translating raw remote failures into the shared error
// taxonomy. New categories register a new variant; the worker runner and the
// scheduler never change for it.
package checkers

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

// Operations every checker understands. Operations outside this set use the
// "custom:" prefix and are interpreted per category.
const (
	OpHealthCheck  = "health_check"
	OpResourceList = "resource_list"
	CustomPrefix   = "custom:"
)

// Service category names.
const (
	CategoryCompute    = "compute"
	CategoryStorage    = "storage"
	CategoryDatabase   = "database"
	CategoryNetworking = "networking"
	CategorySecurity   = "security"
	CategoryManagement = "management"
)

// Checker performs one category's remote inspection operations. Execute
// returns a structured result or a classified error; it must respect ctx,
// which carries the bounded checker timeout.
type Checker interface {
	Category() string
	Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error)
}

var registry = make(map[string]Checker)

// Register adds a checker variant for its category. Later registrations for
// the same category win, which keeps tests able to swap in fakes.
func Register(c Checker) {
	log.Debug().Str("category", c.Category()).Msg("registering checker")
	registry[c.Category()] = c
}

// Get looks up the checker for a service category. An unknown category is a
// configuration-level ServiceError, not a crash.
func Get(category string) (Checker, error) {
	c, ok := registry[category]
	if !ok {
		return nil, classify.Errorf(classify.Service, "no checker registered for service category %q", category)
	}
	return c, nil
}

// RegisterDefaults installs every built-in checker variant. Called by the
// worker main.
func RegisterDefaults() {
	Register(&ComputeChecker{})
	Register(&StorageChecker{})
	Register(&DatabaseChecker{})
	Register(&NetworkingChecker{})
	Register(&SecurityChecker{})
	Register(&ManagementChecker{})
}

func unsupportedOperation(category, operation string) error {
	return classify.Errorf(classify.Service, "%s checker does not support operation %q", category, operation)
}

func marshalResult(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, classify.Wrap(classify.Service, err)
	}
	return data, nil
}
