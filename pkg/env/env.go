// package env reads configuration from the process environment.
package env

import (
	"log"
	"os"
	"strings"
	"time"
)

// Default returns the value of the named variable or defaultValue when unset.
func Default(name, defaultValue string) string {
	name = strings.TrimSpace(name)
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		log.Println("# ", name, "=", v)
		return v
	}
	return defaultValue
}

// Duration parses the named variable as a time.Duration.
func Duration(name string, defaultValue time.Duration) time.Duration {
	v := Default(name, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Println("# ", name, "invalid duration:", err)
		return defaultValue
	}
	return d
}

type secret string

func (s secret) String() string {
	if s == "" {
		return "(nil)"
	}
	return "***"
}
func (s secret) Secret() string {
	return string(s)
}

// Secret is like Default but never logs the value.
func Secret(name, defaultValue string) secret {
	name = strings.TrimSpace(name)
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		log.Println("# ", name, "=", secret(v))
		return secret(v)
	}
	return secret(defaultValue)
}
