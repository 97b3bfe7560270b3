// Package logging provides a shared logger and log utilities to be used in all internal packages.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	L *zap.Logger        = zap.L()
	S *zap.SugaredLogger = zap.S()
)

// Initialize builds the shared logger. Verbosity v raises the level below
// info, so v=1 enables debug logging.
func Initialize(v int) (*zap.Logger, error) {
	atom := zap.NewAtomicLevelAt(zapcore.Level(-v))

	logger := zap.New(newCore(atom, os.Stderr), zap.AddCaller())

	L = logger
	S = logger.Sugar()

	return logger, nil
}

func newCore(enab zapcore.LevelEnabler, out io.Writer) zapcore.Core {
	var encoder zapcore.Encoder

	writer := zapcore.Lock(zapcore.AddSync(out))

	if term.IsTerminal(int(os.Stdin.Fd())) {
		encoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey: "message",

			LevelKey:    "level",
			EncodeLevel: zapcore.CapitalColorLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.ISO8601TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		})
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	return zapcore.NewCore(encoder, writer, enab)
}
