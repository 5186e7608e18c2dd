package main

import (
	"github.com/jpsweeney97/phaser/internal/manifest"
	"github.com/jpsweeney97/phaser/internal/types"
)

// captureManifest snapshots root with the default capture options, the shape
// every CLI command that needs a one-off manifest reaches for.
func captureManifest(root string) (*types.Manifest, error) {
	return manifest.Capture(root, manifest.CaptureOptions{})
}
