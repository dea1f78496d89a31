package api

import (
	"github.com/starford/leetlab/internal/demoservice"
	"github.com/starford/leetlab/internal/session"
	"github.com/starford/leetlab/internal/viewstate"
)

// DemoDetail is the full demo response type (aliased from the domain layer).
type DemoDetail = demoservice.DemoDetail

// DemoListItem is one row of a demo listing.
type DemoListItem = viewstate.ListItem

// DemoListResponse wraps demo listings.
type DemoListResponse struct {
	Demos []DemoListItem `json:"demos" validate:"required"`
	Total int            `json:"total" example:"2" validate:"required"`
}

// TagsResponse wraps the tag universe.
type TagsResponse struct {
	Tags []string `json:"tags" example:"all,closure" validate:"required"`
}

// InvokeRequest is the request body for running a demo's closure factory.
type InvokeRequest = demoservice.InvokeRequest

// InvokeResponse carries one result per call.
type InvokeResponse = demoservice.InvokeResult

// SessionSnapshot is the full renderable state of a session.
type SessionSnapshot = session.Snapshot

// QueryRequest is the request body for PUT /sessions/{sid}/query.
type QueryRequest struct {
	Query string `json:"query" example:"counter"`
}

// TagRequest is the request body for PUT /sessions/{sid}/tag.
type TagRequest struct {
	Tag string `json:"tag" example:"closure" validate:"required"`
}

// ActiveRequest is the request body for PUT /sessions/{sid}/active.
type ActiveRequest struct {
	ID string `json:"id" example:"2026-02-19-2620-counter" validate:"required"`
}
