package testutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewSimpleLogger development logger with short timestamps. Debug level is enabled with debug == true
func NewSimpleLogger(debug bool, name ...string) *zap.SugaredLogger {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		lvl.SetLevel(zapcore.DebugLevel)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("04:05.000")
	log, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		panic(err)
	}
	ret := log.Sugar()
	if len(name) > 0 {
		ret = ret.Named(name[0])
	}
	return ret
}
