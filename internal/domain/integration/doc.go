// Package integration contains the Catalog Integration bounded context.
// This context describes how product catalogs are pulled from a remote commerce
// platform through its asynchronous export-job API.
//
// Key concepts:
//   - ExportJobRequest / ExportJobHandle / ExportJobStatus: the export job wire model
//   - ExportResult: tagged outcome of one retrieval (Completed, NoData, TimedOut)
//   - ProductRecord: one element of a line-delimited feed batch
//   - CatalogExporter: Port interface for triggering and downloading exports
//   - FeedPublisher: Port interface for republishing decoded records downstream
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
