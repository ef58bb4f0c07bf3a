package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// checkSchema unifies cfg with the #Config definition in schema.cue.
func checkSchema(cfg Config) error {
	// Lists are never null in the schema.
	if cfg.Routing.Rules == nil {
		cfg.Routing.Rules = []RuleConfig{}
	}
	if cfg.Push.Opener == nil {
		cfg.Push.Opener = []string{}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup #Config: %w", err)
	}

	// JSON is valid CUE.
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("load config value: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
