// Package configs holds files compiled into the binaries.
package configs

import _ "embed"

//go:embed bootstrap.yaml
var DefaultBootstrap []byte
