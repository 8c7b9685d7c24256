package errors

// Convenience functions for common error patterns

// Configuration errors

func ConfigNotFound(path string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *PipelineError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Stage graph errors

func CyclicGraph(pipeline, node string) *PipelineError {
	return New(CategoryGraph, SeverityFatal, "cyclic stage dependency").
		WithContext("pipeline", pipeline).
		WithContext("stage", node)
}

func UnknownDependency(pipeline, stage, dep string) *PipelineError {
	return New(CategoryGraph, SeverityFatal, "unresolvable stage dependency").
		WithContext("pipeline", pipeline).
		WithContext("stage", stage).
		WithContext("dependency", dep)
}

// Execution errors

func StageFailed(stage string, cause error) *PipelineError {
	return Wrap(cause, CategoryStage, SeverityError, "stage execution failed").
		WithContext("stage", stage)
}

func StageTimedOut(stage string) *PipelineError {
	return New(CategoryStage, SeverityError, "stage timed out").
		WithContext("stage", stage)
}

func GateBlocked(gate, reason string) *PipelineError {
	return New(CategoryGate, SeverityError, "gate blocked promotion").
		WithContext("gate", gate).
		WithContext("reason", reason)
}

// Collaborator errors

func VCSError(operation string, cause error) *PipelineError {
	return Wrap(cause, CategoryVCS, SeverityError, "vcs operation failed").
		WithContext("operation", operation)
}

func ArtifactStoreError(operation string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryArtifact, SeverityError, "artifact store operation failed").
		WithContext("operation", operation)
}

func ChannelError(channel string, cause error) *PipelineError {
	return Wrap(cause, CategoryFeedback, SeverityWarning, "notification channel delivery failed").
		WithContext("channel", channel)
}

// Internal errors

func InternalError(message string, cause error) *PipelineError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
