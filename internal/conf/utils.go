package conf

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/go-playback/internal/logger"
)

const appName = "go-playback"

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// the working directory first
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		GetLogger().Debug("home directory unavailable", logger.Error(err))
		return paths
	}

	if runtime.GOOS == "windows" {
		return append(paths, filepath.Join(homeDir, "AppData", "Roaming", appName))
	}
	return append(paths, filepath.Join(homeDir, ".config", appName))
}

// DefaultConfigFile returns where config init writes a new config file
func DefaultConfigFile() string {
	paths := GetDefaultConfigPaths()
	return filepath.Join(paths[len(paths)-1], configName+".yaml")
}

// moveFile moves src to dst, copying when a rename crosses devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			GetLogger().Warn("failed to close source file", logger.Error(err))
		}
	}()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	if err := dstFile.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
