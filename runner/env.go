package runner

import (
	"fmt"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// the environment is process wide, overrides must not interleave
var envMu sync.Mutex

func envValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case map[string]interface{}, []interface{}, []map[string]interface{}:
		data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return fmt.Sprint(v), nil
}

func restoreEnvLocked(previous map[string]*string) {
	for key, value := range previous {
		if value == nil {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, *value)
		}
	}
}

// applyEnv sets the variables and returns the function restoring the previous values.
func applyEnv(vars map[string]interface{}) (func(), error) {
	envMu.Lock()
	defer envMu.Unlock()
	previous := make(map[string]*string, len(vars))
	for key, v := range vars {
		value, err := envValue(v)
		if err != nil {
			restoreEnvLocked(previous)
			return nil, fmt.Errorf("environment %s: %w", key, err)
		}
		if old, ok := os.LookupEnv(key); ok {
			previous[key] = &old
		} else {
			previous[key] = nil
		}
		if err := os.Setenv(key, value); err != nil {
			restoreEnvLocked(previous)
			return nil, fmt.Errorf("environment %s: %w", key, err)
		}
	}
	return func() {
		envMu.Lock()
		defer envMu.Unlock()
		restoreEnvLocked(previous)
	}, nil
}

// WithEnv runs fn with the variables set and restores the previous values
// afterwards, whatever fn returns.
func WithEnv(vars map[string]interface{}, fn func() error) error {
	if len(vars) == 0 {
		return fn()
	}
	restore, err := applyEnv(vars)
	if err != nil {
		return err
	}
	defer restore()
	return fn()
}
