// Package internal carries build metadata shared by the conveyor binaries.
package internal

// Version of this conveyor release.
const Version = "0.9.2"
