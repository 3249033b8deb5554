// internal/deploy/hooks.go

package deploy

import (
	"context"
	"fmt"
	"path"

	"gopkg.in/yaml.v3"
)

// Validator syntax-checks one file's content before any remote
// interaction. Returning an error fails the deployment in Validating
// with no remote side effects.
type Validator func(filePath string, content []byte) error

// HealthProbe is invoked during Verifying when configured; an error
// fails verification and triggers rollback.
type HealthProbe func(ctx context.Context, hostID string) error

// YAMLValidator rejects syntactically invalid YAML. Registered by
// default for .yaml and .yml, since the managed hosts' configuration is
// YAML.
func YAMLValidator(filePath string, content []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("invalid yaml in %s: %v", filePath, err)
	}
	return nil
}

// validatorFor picks the registered validator for a path by extension.
func (s *Service) validatorFor(filePath string) (Validator, bool) {
	v, ok := s.validators[path.Ext(filePath)]
	return v, ok
}

// RegisterValidator installs a syntax validator for a file extension
// (".yaml"). Passing nil removes the registration.
func (s *Service) RegisterValidator(ext string, v Validator) {
	if v == nil {
		delete(s.validators, ext)
		return
	}
	s.validators[ext] = v
}
