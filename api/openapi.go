// Package api carries the OpenAPI description of the HTTP surface.
package api

import _ "embed"

// OpenAPI is the YAML document served at /docs and used for request validation.
//
//go:embed openapi.yaml
var OpenAPI []byte
