package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRef        = "ref"
	KeyPackageID  = "package_id"
	KeyRevision   = "revision"
	KeyPath       = "path"
	KeyNode       = "node"
	KeyStep       = "step"
	KeyMode       = "mode"
	KeyDecision   = "decision"
	KeyFiles      = "files"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

func Ref(r string) slog.Attr          { return slog.String(KeyRef, r) }
func PackageID(id string) slog.Attr   { return slog.String(KeyPackageID, id) }
func Revision(rev string) slog.Attr   { return slog.String(KeyRevision, rev) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Node(id string) slog.Attr        { return slog.String(KeyNode, id) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func Mode(m string) slog.Attr         { return slog.String(KeyMode, m) }
func Decision(d string) slog.Attr     { return slog.String(KeyDecision, d) }
func Files(n int) slog.Attr           { return slog.Int(KeyFiles, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
