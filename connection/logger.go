package connection

import (
	"log/slog"
	"os"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewProductionLogger builds a *slog.Logger backed by zap, writing
// structured JSON to a rotating file and human-readable error-level output
// to the console, matching the teacher's cmd/root.go NewAsyncLogger. The returned
// func flushes buffered log entries and must be called before process exit.
func NewProductionLogger(logFile string) (*slog.Logger, func()) {
	if logFile == "" {
		logFile = "axonconnect.log"
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	bufferedFile := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(fileWriter),
		Size:          256 * 1024,
		FlushInterval: 5 * time.Second,
	}
	bufferedConsole := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(os.Stdout),
		Size:          64 * 1024,
		FlushInterval: time.Second,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, bufferedFile, zapcore.InfoLevel),
		zapcore.NewCore(consoleEncoder, bufferedConsole, zapcore.ErrorLevel),
	)

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	handler := slogzap.Option{Level: slog.LevelInfo, Logger: zapLogger}.NewZapHandler()

	return slog.New(handler), func() { _ = zapLogger.Sync() }
}

// NewDevelopmentLogger builds a plain text slog.Logger to stderr, for demo
// binaries and tests that do not want file rotation.
func NewDevelopmentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
