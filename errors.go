package texcache

import "errors"

// ErrClosed is returned by Cache methods after Close.
var ErrClosed = errors.New("texcache: cache closed")

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "texcache: invalid config " + e.Field + ": " + e.Reason
}
