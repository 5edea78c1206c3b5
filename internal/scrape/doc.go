// Package scrape defines the result record, the collaborator interfaces, and
// the errors shared by the intake, scheduling, and fetch workflow subsystems.
package scrape
