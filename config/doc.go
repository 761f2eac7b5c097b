// Package config loads the gateway configuration.
//
// A Loader starts from Default, applies each file layer in order, then
// GQLPOOL_* environment variables, and validates the result. Layers are JSON
// or YAML, chosen by file extension, and each is checked against an embedded
// JSON schema before it is merged, so misspelled keys are reported rather than
// ignored. Durations may be written as Go duration strings ("30s").
//
//	loader := config.NewLoader()
//	loader.AddLayer("gqlpool.yaml")
//	loader.AddLayer("gqlpool.local.yaml") // overrides
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Environment overrides use the upper-cased field path, for example
// GQLPOOL_DATABASE_DSN, GQLPOOL_NATS_ENABLED or GQLPOOL_LOG_LEVEL.
package config
