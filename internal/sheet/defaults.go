// Package sheet renders feature records into xlsx workbooks.
package sheet

import (
	"sync"
	"sync/atomic"
)

// ContentType is the MIME type of every workbook this package produces.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Defaults are process-wide layout settings.
type Defaults struct {
	SheetName   string
	TitleSpan   int
	TitleSize   float64
	WidthSpan   int
	ColumnWidth float64
	HeaderFill  string
	StripeFill  string
}

func builtin() Defaults {
	return Defaults{
		SheetName:   "FeatureData",
		TitleSpan:   5,
		TitleSize:   20,
		WidthSpan:   3,
		ColumnWidth: 20,
		HeaderFill:  "ADD8E6", // light blue
		StripeFill:  "D3D3D3", // light grey
	}
}

var (
	initOnce sync.Once
	active   atomic.Pointer[Defaults]
)

// Init installs d for the life of the process. Only the first call has any
// effect; it reports whether this call was the one applied. Zero fields keep
// their built-in value.
func Init(d Defaults) bool {
	applied := false
	initOnce.Do(func() {
		merged := merge(builtin(), d)
		active.Store(&merged)
		applied = true
	})
	return applied
}

func current() Defaults {
	if d := active.Load(); d != nil {
		return *d
	}
	return builtin()
}

func merge(base, d Defaults) Defaults {
	if d.SheetName != "" {
		base.SheetName = d.SheetName
	}
	if d.TitleSpan > 0 {
		base.TitleSpan = d.TitleSpan
	}
	if d.TitleSize > 0 {
		base.TitleSize = d.TitleSize
	}
	if d.WidthSpan > 0 {
		base.WidthSpan = d.WidthSpan
	}
	if d.ColumnWidth > 0 {
		base.ColumnWidth = d.ColumnWidth
	}
	if d.HeaderFill != "" {
		base.HeaderFill = d.HeaderFill
	}
	if d.StripeFill != "" {
		base.StripeFill = d.StripeFill
	}
	return base
}
