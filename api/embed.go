// Package api embeds the OpenAPI specification so every node can serve its
// own contract at /openapi.yaml.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML specification.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
