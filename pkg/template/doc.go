// Package template renders sensor readings into the JSON document that is
// published upstream.
//
// A template is JSON text with two kinds of placeholders:
//
//	<{ label }>  value of "label" in the sensor reading (strings quoted, numbers verbatim)
//	<# TS #>     current Unix time in milliseconds
//
// The rendered document must parse as JSON, otherwise rendering fails.
package template
