package conf

import "github.com/tphakala/go-playback/internal/logger"

const componentConf = "conf"

// GetLogger returns the configuration module logger
func GetLogger() logger.Logger {
	return logger.Global().Module(componentConf)
}
