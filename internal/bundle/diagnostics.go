package bundle

import (
	"strings"

	"github.com/roach88/ngbundle/internal/backend"
)

// Diagnostic codes. The first three are suppressed; the rest reach the
// warning sink.
const (
	CodeCircularDependency   = "CIRCULAR_DEPENDENCY"
	CodeUnusedExternalImport = "UNUSED_EXTERNAL_IMPORT"
	CodeThisIsUndefined      = "THIS_IS_UNDEFINED"

	CodeInvalidSourceMap = "INVALID_SOURCE_MAP"
	CodeBundler          = "BUNDLER_WARNING"
)

// suppressed lists the diagnostic codes never forwarded.
var suppressed = map[string]bool{
	CodeCircularDependency:   true,
	CodeUnusedExternalImport: true,
	CodeThisIsUndefined:      true,
}

// backendCodes maps bundler diagnostic IDs onto shared codes.
var backendCodes = map[string]string{
	"this-is-undefined-in-esm": CodeThisIsUndefined,
	"this-is-undefined-in-cjs": CodeThisIsUndefined,
}

// WarningSink receives forwarded diagnostics, one line each.
type WarningSink interface {
	Warn(msg string)
}

// Diagnostic is a warning raised during a build.
type Diagnostic struct {
	Code    string
	Message string
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	return d.Code + ": " + strings.Join(strings.Fields(d.Message), " ")
}

// Suppressed reports whether diagnostics with code are filtered out.
func Suppressed(code string) bool {
	return suppressed[code]
}

// NormalizeCode maps a bundler diagnostic ID onto a code: known IDs map to
// the shared codes, others are upper-cased with dashes turned into
// underscores. An empty ID yields BUNDLER_WARNING.
func NormalizeCode(id string) string {
	if code, ok := backendCodes[id]; ok {
		return code
	}
	if id == "" {
		return CodeBundler
	}
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

func fromMessage(m backend.Message) Diagnostic {
	text := m.Text
	if m.File != "" {
		text = m.String()
		if m.ID != "" {
			text = strings.TrimSuffix(text, " ["+m.ID+"]")
		}
	}
	return Diagnostic{Code: NormalizeCode(m.ID), Message: text}
}

// filter forwards unsuppressed diagnostics to sink and returns how many
// were forwarded and suppressed.
func filter(sink WarningSink, diags []Diagnostic) (forwarded, dropped int) {
	for _, d := range diags {
		if Suppressed(d.Code) {
			dropped++
			continue
		}
		sink.Warn(d.String())
		forwarded++
	}
	return forwarded, dropped
}
