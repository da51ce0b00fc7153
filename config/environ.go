package config

import "os"

// environ reads the process environment; the indirection exists purely so
// it reads the same os.Environ() value go-flags' own env-tag resolution
// sees, without a second copy of the parsing logic.
var environ = os.Environ
