// Package httputil holds the JSON response and request helpers shared by the
// DSR API handlers.
package httputil
