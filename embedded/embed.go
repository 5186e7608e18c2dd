// Package embedded provides the default Claude Code hook settings template
// used as a fallback by `enforce install` when no project-specific
// settings.json already declares a phaser hook entry.
package embedded

import "embed"

// HooksJSON contains the raw default hook configuration merged into
// settings.json by `enforce install` (§6.3, §4.10).
//
//go:embed hooks.json
var HooksJSON []byte

// HooksFS exposes the same content through fs.FS for callers that want to
// walk it rather than read the single file directly.
//
//go:embed hooks.json
var HooksFS embed.FS
