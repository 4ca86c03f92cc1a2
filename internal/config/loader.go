package config

import "fmt"

// LoadFromEnv reads settings from the process environment. Builds tagged dev
// first merge a local .env file.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}
	return Load(FromEnviron())
}
