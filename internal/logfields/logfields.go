package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID     = "build_id"
	KeyPipeline    = "pipeline"
	KeyFingerprint = "fingerprint"
	KeyRevision    = "revision"
	KeyLabel       = "label"
	KeyStage       = "stage"
	KeyBatch       = "batch"
	KeyGate        = "gate"
	KeyChannel     = "channel"
	KeyTrigger     = "trigger"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
	KeyPath        = "path"
	KeySandbox     = "sandbox"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Pipeline(name string) slog.Attr  { return slog.String(KeyPipeline, name) }
func Fingerprint(fp string) slog.Attr { return slog.String(KeyFingerprint, fp) }
func Revision(rev string) slog.Attr   { return slog.String(KeyRevision, rev) }
func Label(label string) slog.Attr    { return slog.String(KeyLabel, label) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Batch(index int) slog.Attr       { return slog.Int(KeyBatch, index) }
func Gate(name string) slog.Attr      { return slog.String(KeyGate, name) }
func Channel(name string) slog.Attr   { return slog.String(KeyChannel, name) }
func Trigger(kind string) slog.Attr   { return slog.String(KeyTrigger, kind) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(path string) slog.Attr      { return slog.String(KeyPath, path) }
func Sandbox(name string) slog.Attr   { return slog.String(KeySandbox, name) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
