// Package logging configures the supervisor's default structured logger.
package logging

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/phsym/console-slog"
)

// Configure sets the process-wide slog default handler from a level name
// ("trace", "debug", "info", "warn", "error") and returns the resolved level.
// "trace" is mapped onto slog's debug level since slog has no finer level.
func Configure(levelName string) slog.Level {
	if levelName == "trace" {
		levelName = "debug"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		log.Fatalf("invalid log level: %s", levelName)
	}
	slog.SetDefault(newConsoleLogger(level))
	return level
}

func newConsoleLogger(level slog.Level) *slog.Logger {
	handler := console.NewHandler(os.Stdout, &console.HandlerOptions{
		Level:      level,
		TimeFormat: time.DateTime,
		Theme:      newTheme(),
	})
	return slog.New(handler)
}

// With returns a child logger annotated with a component name, the pattern
// every subsystem (registry, orchestrator, backends) uses to tag its logs.
func With(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// levelStyle is the subset of a console-slog Theme that varies by level;
// the rest of the theme (timestamp/source/message/attr styling) is fixed.
type levelStyle struct {
	err, warn, info, debug console.ANSIMod
}

// theme implements console.Theme. Colors are resolved once at construction
// from fatih/color's NO_COLOR/terminal detection (color.NoColor), so piping
// stacksupervisor's output to a file or a log aggregator yields plain text
// instead of raw escape codes, the same check the CLI's own colored
// summaries (color.Green/color.Red in cmd/stacksupervisor) already honor.
type theme struct {
	levels         levelStyle
	timestamp      console.ANSIMod
	source         console.ANSIMod
	message        console.ANSIMod
	messageDebug   console.ANSIMod
	attrKey        console.ANSIMod
	attrValue      console.ANSIMod
	attrValueError console.ANSIMod
}

func (t theme) Name() string                    { return "stacksupervisor" }
func (t theme) Timestamp() console.ANSIMod      { return t.timestamp }
func (t theme) Source() console.ANSIMod         { return t.source }
func (t theme) Message() console.ANSIMod        { return t.message }
func (t theme) MessageDebug() console.ANSIMod   { return t.messageDebug }
func (t theme) AttrKey() console.ANSIMod        { return t.attrKey }
func (t theme) AttrValue() console.ANSIMod      { return t.attrValue }
func (t theme) AttrValueError() console.ANSIMod { return t.attrValueError }
func (t theme) LevelError() console.ANSIMod     { return t.levels.err }
func (t theme) LevelWarn() console.ANSIMod      { return t.levels.warn }
func (t theme) LevelInfo() console.ANSIMod      { return t.levels.info }
func (t theme) LevelDebug() console.ANSIMod     { return t.levels.debug }

func (t theme) Level(level slog.Level) console.ANSIMod {
	switch {
	case level >= slog.LevelError:
		return t.LevelError()
	case level >= slog.LevelWarn:
		return t.LevelWarn()
	case level >= slog.LevelInfo:
		return t.LevelInfo()
	default:
		return t.LevelDebug()
	}
}

func newTheme() console.Theme {
	if color.NoColor {
		return theme{}
	}
	return theme{
		levels: levelStyle{
			err:   console.ToANSICode(console.Red),
			warn:  console.ToANSICode(console.Yellow),
			info:  console.ToANSICode(console.Faint),
			debug: console.ToANSICode(console.Cyan, console.Faint),
		},
		timestamp:      console.ToANSICode(console.BrightBlack),
		source:         console.ToANSICode(console.Bold, console.BrightBlack),
		message:        console.ToANSICode(console.Bold),
		messageDebug:   console.ToANSICode(console.Faint),
		attrKey:        console.ToANSICode(console.Yellow, console.Faint, console.Bold),
		attrValue:      console.ToANSICode(console.Faint),
		attrValueError: console.ToANSICode(console.Red),
	}
}
