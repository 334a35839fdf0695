// Package bulletin defines the records, collaborator interfaces, and error
// taxonomy shared by the scrape, extract, and reconcile subsystems of the
// transit bulletin crawler.
package bulletin
