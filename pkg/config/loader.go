package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix environment-variable overrides must carry to be
// folded into the loaded document (e.g. WASM_SHIM_OBSERVABILITY__DEFAULT_LEVEL).
const EnvPrefix = "WASM_SHIM_"

// Load reads a YAML policy document from path, layering environment
// variable overrides under EnvPrefix on top, and decodes it into a
// Document. It does not validate the document semantically — that is the
// Blueprint Compiler's job; Load only covers the JSON/YAML wire shape.
func Load(path string) (*Document, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, "__", func(key, value string) (string, any) {
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment overrides: %w", err)
	}

	var doc Document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &doc,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			TagName: "yaml",
		},
	}); err != nil {
		return nil, fmt.Errorf("config: decode document: %w", err)
	}

	for name, svc := range doc.Services {
		if svc.Timeout == 0 {
			svc.Timeout = Duration(DefaultTimeout)
			doc.Services[name] = svc
		}
	}

	return &doc, nil
}

// LoadFromMap decodes a Document out of an already-parsed generic map via
// koanf's confmap provider. Tests use it; the reload watcher uses Load.
func LoadFromMap(m map[string]any) (*Document, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load map: %w", err)
	}
	var doc Document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: decode document: %w", err)
	}
	for name, svc := range doc.Services {
		if svc.Timeout == 0 {
			svc.Timeout = Duration(DefaultTimeout)
			doc.Services[name] = svc
		}
	}
	return &doc, nil
}
