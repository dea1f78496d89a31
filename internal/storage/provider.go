// Package storage defines read-only access to the demos root directory.
package storage

// Layout names inside a demo folder.
const (
	EntryFile   = "demo.html"
	ScriptFile  = "algo.js"
	MetaFile    = "meta.yaml"
	MetaFileAlt = "meta.yml"
	AssetsDir   = "assets"
)

// Provider is the interface for demo file access.
type Provider interface {
	// Units returns the folder names (relative to the root) that contain an
	// EntryFile, sorted ascending.
	Units() ([]string, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Resolve maps a relative path to an absolute one under the root,
	// rejecting traversal.
	Resolve(path string) (string, error)
	// Root returns the absolute root directory.
	Root() string
}
