package ox

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v2"
)

// Config is an OXProject's full configuration (SPEC_FULL.md §A): where to
// read from, where generated output would go, caching and traversal
// limits, and the ambient knobs (timeout, watch, verbose) that shape the
// rest of the pipeline's behavior.
//
// Grounded on pongo2's TemplateSet options
// (_examples/flosch-pongo2/template_sets.go: base directory + loader
// list), extended with the size/depth/timeout limits the spec's
// ProjectError subtypes imply must exist somewhere.
type Config struct {
	BaseDir           string   `yaml:"baseDir" json:"baseDir"`
	EntryPoint        string   `yaml:"entryPoint" json:"entryPoint"`
	OutputDir         string   `yaml:"outputDir" json:"outputDir"`
	ModuleDirectories []string `yaml:"moduleDirectories" json:"moduleDirectories"`
	Extensions        []string `yaml:"extensions" json:"extensions"`
	Includes          []string `yaml:"includes" json:"includes"`
	Excludes          []string `yaml:"excludes" json:"excludes"`

	MaxFileSize         int64 `yaml:"maxFileSize" json:"maxFileSize"`
	MaxCacheSize        int64 `yaml:"maxCacheSize" json:"maxCacheSize"`
	EnableCacheEviction bool  `yaml:"enableCacheEviction" json:"enableCacheEviction"`
	MaxDepth            int   `yaml:"maxDepth" json:"maxDepth"`

	TimeoutSeconds int  `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	Watch          bool `yaml:"watch" json:"watch"`
	Verbose        bool `yaml:"verbose" json:"verbose"`
}

// defaultConfig mirrors the defaults a fresh OXProject applies when a
// field is left unset (SPEC_FULL.md §A "configuration ... with defaults
// merge").
func defaultConfig() Config {
	return Config{
		Extensions:          []string{".ox"},
		MaxFileSize:         5 * 1024 * 1024,
		MaxCacheSize:        64 * 1024 * 1024,
		EnableCacheEviction: true,
		MaxDepth:            64,
		TimeoutSeconds:      30,
	}
}

func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// configSchema is the JSON Schema every parsed config document is
// validated against (SPEC_FULL.md domain stack:
// github.com/santhosh-tekuri/jsonschema/v5) before being merged over
// defaults, catching typos (e.g. a string where maxFileSize wants a
// number) earlier than a zero-value default would.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "baseDir": {"type": "string"},
    "entryPoint": {"type": "string"},
    "outputDir": {"type": "string"},
    "moduleDirectories": {"type": "array", "items": {"type": "string"}},
    "extensions": {"type": "array", "items": {"type": "string"}},
    "includes": {"type": "array", "items": {"type": "string"}},
    "excludes": {"type": "array", "items": {"type": "string"}},
    "maxFileSize": {"type": "integer", "minimum": 0},
    "maxCacheSize": {"type": "integer", "minimum": 0},
    "enableCacheEviction": {"type": "boolean"},
    "maxDepth": {"type": "integer", "minimum": 0},
    "timeoutSeconds": {"type": "integer", "minimum": 0},
    "watch": {"type": "boolean"},
    "verbose": {"type": "boolean"}
  },
  "additionalProperties": false
}`

func compileConfigSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader([]byte(configSchema))); err != nil {
		return nil, newErr(KindProjectError, "InvalidConfig", Location{}, err)
	}
	return compiler.Compile("config.schema.json")
}

// loadConfig finds and parses `ox.config.yaml`/`ox.config.yml`/
// `ox.config.json` under dir, merges it over defaultConfig(), and
// validates the raw document against configSchema first.
func loadConfig(dir string) (Config, error) {
	cfg := defaultConfig()
	cfg.BaseDir = dir

	path, raw, err := findConfigFile(dir)
	if err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}

	asJSON, err := toJSONDocument(path, raw)
	if err != nil {
		return cfg, err
	}

	schema, err := compileConfigSchema()
	if err != nil {
		return cfg, err
	}
	var doc interface{}
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return cfg, newErr(KindProjectError, "InvalidConfig", Location{File: path}, err)
	}
	if err := schema.Validate(doc); err != nil {
		return cfg, newErr(KindProjectError, "InvalidConfig", Location{File: path}, err)
	}

	var parsed Config
	if err := json.Unmarshal(asJSON, &parsed); err != nil {
		return cfg, newErr(KindProjectError, "InvalidConfig", Location{File: path}, err)
	}
	present, _ := doc.(map[string]interface{})
	mergeConfig(&cfg, parsed, present)
	return cfg, nil
}

func findConfigFile(dir string) (path string, raw []byte, err error) {
	for _, name := range []string{"ox.config.yaml", "ox.config.yml", "ox.config.json"} {
		p := filepath.Join(dir, name)
		data, readErr := os.ReadFile(p)
		if readErr == nil {
			return p, data, nil
		}
	}
	return "", nil, nil
}

func toJSONDocument(path string, raw []byte) ([]byte, error) {
	if filepath.Ext(path) == ".json" {
		return raw, nil
	}
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, newErr(KindProjectError, "InvalidConfig", Location{File: path}, err)
	}
	return json.Marshal(convertYAMLMapKeys(doc))
}

// convertYAMLMapKeys recursively converts gopkg.in/yaml.v2's
// map[interface{}]interface{} into map[string]interface{} so
// encoding/json can marshal it.
func convertYAMLMapKeys(v interface{}) interface{} {
	switch node := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, val := range node {
			out[toString(k)] = convertYAMLMapKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, item := range node {
			out[i] = convertYAMLMapKeys(item)
		}
		return out
	default:
		return v
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mergeConfig(base *Config, override Config, present map[string]interface{}) {
	if override.EntryPoint != "" {
		base.EntryPoint = override.EntryPoint
	}
	if override.OutputDir != "" {
		base.OutputDir = override.OutputDir
	}
	if len(override.ModuleDirectories) > 0 {
		base.ModuleDirectories = override.ModuleDirectories
	}
	if len(override.Extensions) > 0 {
		base.Extensions = override.Extensions
	}
	if len(override.Includes) > 0 {
		base.Includes = override.Includes
	}
	if len(override.Excludes) > 0 {
		base.Excludes = override.Excludes
	}
	if override.MaxFileSize > 0 {
		base.MaxFileSize = override.MaxFileSize
	}
	if override.MaxCacheSize > 0 {
		base.MaxCacheSize = override.MaxCacheSize
	}
	if _, ok := present["enableCacheEviction"]; ok {
		base.EnableCacheEviction = override.EnableCacheEviction
	}
	if override.MaxDepth > 0 {
		base.MaxDepth = override.MaxDepth
	}
	if override.TimeoutSeconds > 0 {
		base.TimeoutSeconds = override.TimeoutSeconds
	}
	if _, ok := present["watch"]; ok {
		base.Watch = override.Watch
	}
	if _, ok := present["verbose"]; ok {
		base.Verbose = override.Verbose
	}
}
