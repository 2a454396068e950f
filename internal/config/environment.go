package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Environment selects runtime behavior that legitimately differs between
// development, test, and production. Components receive it as a constructor
// argument; nothing sniffs the environment at runtime.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// ParseEnvironment validates an environment string. Unknown values are an
// error, not a default; a typo in production config must not silently fall
// back to development behavior.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvDevelopment, EnvTest, EnvProduction:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown environment %q (expected development, test, or production)", s)
	}
}

// String returns the environment name.
func (e Environment) String() string { return string(e) }

// AllowsDestructiveRecovery reports whether recovery actions that kill
// processes may execute for real in this environment without an explicit
// opt-in.
func (e Environment) AllowsDestructiveRecovery() bool {
	return e == EnvDevelopment
}

// UnmarshalYAML parses and validates the environment from YAML.
func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	env, err := ParseEnvironment(s)
	if err != nil {
		return err
	}
	*e = env
	return nil
}
