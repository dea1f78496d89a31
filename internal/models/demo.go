// Package models defines the domain types for leetlab.
package models

import (
	"context"
	"time"
)

// UnknownDate is the date sentinel for demos whose id carries no date prefix
// and whose metadata does not supply one.
const UnknownDate = "unknown-date"

// ViewLoader produces the renderable view of one demo. It may be called any
// number of times; each call may re-run the underlying load.
type ViewLoader func(ctx context.Context) (*View, error)

// ModuleLoader is the raw loader registered for a discovered demo unit.
type ModuleLoader func(ctx context.Context) (*Module, error)

// Descriptor is one catalog entry.
type Descriptor struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Date   string     `json:"date"`
	Tags   []string   `json:"tags"`
	Loader ViewLoader `json:"-"`
}

// HasDate reports whether the descriptor carries a real date.
func (d Descriptor) HasDate() bool {
	return d.Date != UnknownDate
}

// HasTag reports whether tag is one of the descriptor's tags (exact match).
func (d Descriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Meta is the optional sidecar record of a demo (meta.yaml).
type Meta struct {
	Title *string  `yaml:"title" json:"title,omitempty"`
	Date  *string  `yaml:"date" json:"date,omitempty"`
	Tags  []string `yaml:"tags" json:"tags,omitempty"`
}

// Module is what a unit's raw loader yields. Only Default is exposed to hosts.
type Module struct {
	Default *View
	Exports map[string]any
}

// View is the renderable content of a demo.
type View struct {
	DemoID   string    `json:"demo_id"`
	HTML     string    `json:"html"`
	Script   string    `json:"script,omitempty"`
	Exports  []string  `json:"exports"`
	Checksum string    `json:"checksum"`
	LoadedAt time.Time `json:"loaded_at"`
}
