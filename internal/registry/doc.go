// Package registry turns discovered demo units into the immutable, ordered
// Catalog. It infers dates and titles from folder names, applies optional
// meta.yaml sidecars, and wraps each unit's loader so that hosts only see the
// unit's default view.
//
// The builder does not care how the unit tables were populated: Discover
// fills them from a storage.Provider, tests fill them by hand.
package registry
