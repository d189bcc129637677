package common

import (
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard logrus logger. Logs go to stderr unless logFile is set, in
// which case they go to logFile and are rotated every 100 megabytes.
func SetupLogging(verbosity string, logFile string) error {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	lvl, err := log.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	return nil
}
