package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides leveled, structured logging on top of zerolog. Log lines
// go to the diagnostic writer; summaries go to the output writer.
type Logger struct {
	zl    zerolog.Logger
	out   io.Writer
	quiet bool
}

// NewLogger creates a logger writing human-readable lines to diag. quiet
// keeps only warnings and errors, verbose enables debug output.
func NewLogger(diag, out io.Writer, quiet, verbose bool) *Logger {
	level := zerolog.InfoLevel
	switch {
	case quiet:
		level = zerolog.WarnLevel
	case verbose:
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        diag,
		NoColor:    true,
		TimeFormat: time.TimeOnly,
	}
	return &Logger{
		zl:    zerolog.New(console).Level(level).With().Timestamp().Logger(),
		out:   out,
		quiet: quiet,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), out: io.Discard, quiet: true}
}

// With returns a child logger tagging every line with key=value.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:    l.zl.With().Str(key, value).Logger(),
		out:   l.out,
		quiet: l.quiet,
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Upload logs one uploaded or to-be-uploaded file.
func (l *Logger) Upload(path, reason string, dryRun bool) {
	l.event(dryRun).Str("action", "upload").Str("path", path).Str("reason", reason).Msg("upload")
}

// Delete logs one deleted or to-be-deleted file.
func (l *Logger) Delete(path string, dryRun bool) {
	l.event(dryRun).Str("action", "delete").Str("path", path).Msg("delete")
}

func (l *Logger) event(dryRun bool) *zerolog.Event {
	e := l.zl.Info()
	if dryRun {
		e = e.Bool("dryrun", true)
	}
	return e
}

// PrintSummary prints a summary of the sync operation
func (l *Logger) PrintSummary(uploaded, deleted, errors int64, bytesUploaded int64, duration time.Duration) {
	if l.quiet && errors == 0 {
		return
	}

	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, "=== Summary ===")
	fmt.Fprintf(l.out, "Uploaded: %d files (%s)\n", uploaded, formatBytes(bytesUploaded))
	fmt.Fprintf(l.out, "Deleted: %d files\n", deleted)
	if errors > 0 {
		fmt.Fprintf(l.out, "Errors: %d\n", errors)
	}
	fmt.Fprintf(l.out, "Duration: %s\n", duration.Round(time.Millisecond))
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
