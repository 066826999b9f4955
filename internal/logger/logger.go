// internal/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level      string `json:"level"` // trace, debug, info, warn, error, fatal
	LogToFile  bool   `json:"log_to_file"`
	LogToJSON  bool   `json:"log_to_json"`
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"`    // megabytes
	MaxBackups int    `json:"max_backups"` // number of backups
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`    // compress old log files
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogToFile:  false,
		LogToJSON:  false,
		FilePath:   "tcpchat.log",
		MaxSize:    10, // 10 MB
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// InitLogger replaces the global zerolog logger. Components created with NewLogger
// afterwards write through it.
func InitLogger(config LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(Output(config, os.Stdout)).With().Timestamp().Logger()
}

// Output builds the writer chain for config: a console or JSON stream on out, plus a
// rotated file when enabled.
func Output(config LogConfig, out io.Writer) io.Writer {
	var writers []io.Writer
	if !config.LogToJSON {
		writers = append(writers, consoleWriter(out))
	} else {
		writers = append(writers, out)
	}
	if config.LogToFile && config.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	if len(writers) == 1 {
		return writers[0]
	}
	return io.MultiWriter(writers...)
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"component",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"component"},
		FormatLevel: func(i interface{}) string {
			level := strings.ToUpper(fmt.Sprintf("%s", i))
			color := "37"
			switch level {
			case "TRACE", "DEBUG":
				color = "36"
			case "INFO":
				color = "32"
			case "WARN":
				color = "33"
			case "ERROR":
				color = "31"
			case "FATAL":
				color = "35"
			}
			return "\033[" + color + "m[ " + fmt.Sprintf("%-5s", level) + " ]\033[0m"
		},
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprintf("\033[90m%s\033[0m", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[34m%s\033[0m: ", i)
		},
		FormatErrFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[31m%s\033[0m: ", i)
		},
		FormatErrFieldValue: func(i interface{}) string {
			return fmt.Sprintf("\033[31m%s\033[0m", i)
		},
	}
}

type Logger struct {
	logger zerolog.Logger
}

func NewLogger(component string) *Logger {
	return &Logger{
		logger: log.With().Str("component", component).Logger(),
	}
}

// New wraps an existing zerolog logger, mostly so tests can log into a buffer.
func New(zl zerolog.Logger, component string) *Logger {
	return &Logger{logger: zl.With().Str("component", component).Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{
		logger: ctx.Logger(),
	}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

func (l *Logger) Trace(msg string)                       { l.logger.Trace().Msg(msg) }
func (l *Logger) Tracef(format string, v ...interface{}) { l.logger.Trace().Msgf(format, v...) }
func (l *Logger) Debug(msg string)                       { l.logger.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
func (l *Logger) Info(msg string)                        { l.logger.Info().Msg(msg) }
func (l *Logger) Infof(format string, v ...interface{})  { l.logger.Info().Msgf(format, v...) }
func (l *Logger) Warn(msg string)                        { l.logger.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l *Logger) Error(msg string)                       { l.logger.Error().Msg(msg) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
func (l *Logger) Fatal(msg string)                       { l.logger.Fatal().Msg(msg) }
func (l *Logger) Fatalf(format string, v ...interface{}) { l.logger.Fatal().Msgf(format, v...) }

// LogEvent logs a session lifecycle or traffic event. Routine events get a short
// message; anything else keeps event/username/detail as fields.
func (l *Logger) LogEvent(level string, event string, username string, detail string) {
	var message string
	switch event {
	case "client_connected":
		message = "User connected"
		if username != "" {
			message = fmt.Sprintf("\033[96m%s\033[0m connected", username)
		}
	case "client_disconnected":
		message = "User disconnected"
		if username != "" {
			message = fmt.Sprintf("\033[96m%s\033[0m disconnected", username)
		}
		if detail != "" {
			message += " (" + detail + ")"
		}
	case "message_received":
		switch {
		case username != "" && detail != "":
			message = fmt.Sprintf("\033[95m%s\033[0m: \033[97m%s\033[0m", username, detail)
		case username != "":
			message = fmt.Sprintf("Message from \033[95m%s\033[0m", username)
		default:
			message = "Message received"
		}
	default:
		ctx := l.logger.With().Str("event", event)
		if username != "" {
			ctx = ctx.Str("username", username)
		}
		message = strings.ReplaceAll(event, "_", " ")
		if detail != "" {
			ctx = ctx.Str("detail", detail)
			message = fmt.Sprintf("%s: %s", message, detail)
		}
		emit(ctx.Logger(), level, message)
		return
	}
	emit(l.logger, level, message)
}

func emit(logger zerolog.Logger, level, message string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger.WithLevel(lvl).Msg(message)
}
