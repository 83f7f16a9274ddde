package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

// BuildLogger constructs the zap logger the CLI and long-lived components
// share. Logs go to stderr so command output stays clean on stdout.
func (c LoggingConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errtag.Wrap(errtag.InvalidConfig, err, "parse log level %q", c.Level)
	}

	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
