// Package travelinfo looks up current travel-entry information by
// delegating web research to an external agent and validating its answer.
package travelinfo

// Version is the release version of travelinfo.
const Version = "0.3.0"
