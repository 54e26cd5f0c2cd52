package configs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// load orchestrator config from a file.
//
// `${VAR}` in the file is replaced with the environment variable,
// so that secrets are not written in the file.
//
// returns *Config, error:
//
//	When loading success, returns `(*Config, nil)`.
//	Otherwise, returns `(nil, error)`, also for misconfigurations.
func LoadConfig(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal([]byte(os.ExpandEnv(string(content))))
}

func Unmarshal(conf []byte) (out *Config, err error) {
	var m *ConfigMarshall
	if err := yaml.Unmarshal(conf, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("config: empty")
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("config: %v", r)
		}
	}()
	return TrySeal(m), nil
}
