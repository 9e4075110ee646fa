package config

import "os"

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func unsetenv(key string) {
	_ = os.Unsetenv(key)
}
