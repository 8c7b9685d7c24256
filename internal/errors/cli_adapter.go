package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// Operator-facing exit codes. Kept stable so scripts can branch on them.
const (
	ExitSuccess     = 0
	ExitGateBlocked = 1
	ExitExecution   = 2
	ExitConfig      = 3
)

// CLIErrorAdapter handles error presentation and exit code determination for the CLI.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if pe, ok := err.(*PipelineError); ok {
		return a.exitCodeFromPipelineError(pe)
	}

	return ExitExecution
}

// exitCodeFromPipelineError maps PipelineError categories to exit codes.
func (a *CLIErrorAdapter) exitCodeFromPipelineError(err *PipelineError) int {
	switch err.Category {
	case CategoryConfig, CategoryGraph, CategoryValidation:
		return ExitConfig
	case CategoryGate:
		return ExitGateBlocked
	default:
		return ExitExecution
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if pe, ok := err.(*PipelineError); ok {
		return a.formatPipelineError(pe)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatPipelineError formats a PipelineError for display.
func (a *CLIErrorAdapter) formatPipelineError(err *PipelineError) string {
	if a.verbose {
		return err.Error()
	}

	switch err.Category {
	case CategoryConfig, CategoryGraph, CategoryValidation:
		return err.Message
	default:
		return fmt.Sprintf("%s: %s", err.Category, err.Message)
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if pe, ok := err.(*PipelineError); ok {
		return pe.Category == CategoryInternal ||
			pe.Category == CategoryRuntime ||
			pe.Severity == SeverityFatal
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if pe, ok := err.(*PipelineError); ok {
		level := a.slogLevelFromSeverity(pe.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(pe.Category)),
		}
		if pe.Retryable {
			attrs = append(attrs, slog.Bool("retryable", true))
		}

		a.logger.LogAttrs(nil, level, pe.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts PipelineError severity to slog level.
func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
