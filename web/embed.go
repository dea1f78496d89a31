// Package web embeds the browser shell served at /.
package web

import "embed"

//go:embed static/*
var StaticFiles embed.FS
