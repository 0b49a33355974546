// Package component defines the lifecycle contract shared by GeoGate's
// long-running parts and Group, which starts and stops them together.
package component
