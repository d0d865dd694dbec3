package shared

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

func PointerTo[T any](v T) *T {
	return &v
}

// LoadDotEnv loads the nearest .env file found walking up from the working
// directory. Variables already set in the environment win. It returns the
// loaded path, or "" when no file was found.
func LoadDotEnv() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, godotenv.Load(envPath)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
