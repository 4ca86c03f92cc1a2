//go:build dev

package config

import (
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv loads ENV_FILE (default .env) without overriding variables
// already present in the environment.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
