package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/bitleak/bert/codec"
)

// JobConf is the per-job section of the config, [every_job] holds the values
// shared by all jobs and [jobs.<name>] overrides them.
type JobConf struct {
	Workers    int `toml:"workers"`
	MaxRetries int `toml:"max_retries"`
	// Environment is applied around the job run, non-string values are JSON encoded.
	Environment map[string]interface{} `toml:"environment"`
	// InvokeArgs are pushed into the job's work queue before it runs.
	InvokeArgs      []map[string]interface{} `toml:"invoke_args"`
	InvokeArgsFiles []string                 `toml:"invoke_args_files"`
	ExecutionRole   string                   `toml:"execution_role_arn"`
	Encoding        codec.Names              `toml:"encoding"`
	TimeoutSecond   int                      `toml:"timeout"`
	MemorySize      int                      `toml:"memory_size"`
}

func (j *JobConf) validate(name string) error {
	fail := func(field, format string, args ...interface{}) error {
		return &ConfigError{Job: name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	if j.Workers < 0 {
		return fail("workers", "must not be negative, got %d", j.Workers)
	}
	if j.MaxRetries < 0 {
		return fail("max_retries", "must not be negative, got %d", j.MaxRetries)
	}
	if j.TimeoutSecond < 0 {
		return fail("timeout", "must not be negative, got %d", j.TimeoutSecond)
	}
	if j.MemorySize < 0 || j.MemorySize%64 != 0 {
		return fail("memory_size", "must be a multiple of 64, got %d", j.MemorySize)
	}
	for key := range j.Environment {
		if key == "" || strings.Contains(key, "=") {
			return fail("environment", "invalid variable name %q", key)
		}
	}
	for _, path := range j.InvokeArgsFiles {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
		default:
			return fail("invoke_args_files", "%q isn't a json or yaml file", path)
		}
	}
	return nil
}

// mergeLists keeps the primary values first, then the secondary ones not seen yet.
func mergeLists(primary, secondary []string) []string {
	if len(primary) == 0 && len(secondary) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(primary)+len(secondary))
	merged := make([]string, 0, len(primary)+len(secondary))
	for _, list := range [][]string{primary, secondary} {
		for _, value := range list {
			if seen[value] {
				continue
			}
			seen[value] = true
			merged = append(merged, value)
		}
	}
	return merged
}

// JobSettings resolves the settings of one job: the job's own section wins
// over [every_job], which wins over the process-wide values.
func (c *Config) JobSettings(name string) JobConf {
	every := c.EveryJob
	job := c.Jobs[name]

	settings := JobConf{
		Workers:       every.Workers,
		MaxRetries:    every.MaxRetries,
		ExecutionRole: every.ExecutionRole,
		TimeoutSecond: every.TimeoutSecond,
		MemorySize:    every.MemorySize,
	}
	if job.Workers > 0 {
		settings.Workers = job.Workers
	}
	if job.MaxRetries > 0 {
		settings.MaxRetries = job.MaxRetries
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = c.MaxRetries
	}
	if job.ExecutionRole != "" {
		settings.ExecutionRole = job.ExecutionRole
	}
	if job.TimeoutSecond > 0 {
		settings.TimeoutSecond = job.TimeoutSecond
	}
	if job.MemorySize > 0 {
		settings.MemorySize = job.MemorySize
	}

	settings.Environment = make(map[string]interface{}, len(every.Environment)+len(job.Environment))
	for key, value := range every.Environment {
		settings.Environment[key] = value
	}
	for key, value := range job.Environment {
		settings.Environment[key] = value
	}
	settings.InvokeArgs = append(append([]map[string]interface{}{}, job.InvokeArgs...), every.InvokeArgs...)
	settings.InvokeArgsFiles = mergeLists(job.InvokeArgsFiles, every.InvokeArgsFiles)
	settings.Encoding = codec.Names{
		Handlers:         mergeLists(job.Encoding.Handlers, every.Encoding.Handlers),
		IdentityEncoders: mergeLists(job.Encoding.IdentityEncoders, every.Encoding.IdentityEncoders),
	}
	return settings
}

// LoadInvokeArgs returns the inline invoke args followed by the ones read from files.
// A file holds either one object or a list of objects.
func (j *JobConf) LoadInvokeArgs(job string) ([]map[string]interface{}, error) {
	args := make([]map[string]interface{}, 0, len(j.InvokeArgs))
	args = append(args, j.InvokeArgs...)
	for _, path := range j.InvokeArgsFiles {
		loaded, err := readInvokeArgs(path)
		if err != nil {
			return nil, &ConfigError{Job: job, Field: "invoke_args_files", Reason: err.Error()}
		}
		args = append(args, loaded...)
	}
	return args, nil
}

func readInvokeArgs(path string) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("%s isn't a json or yaml file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		args := make([]map[string]interface{}, 0, len(v))
		for i, elem := range v {
			m, ok := elem.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s: element %d is %T, not an object", path, i, elem)
			}
			args = append(args, m)
		}
		return args, nil
	}
	return nil, fmt.Errorf("%s: expected an object or a list of objects, got %T", path, raw)
}
