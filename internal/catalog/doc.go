// Package catalog defines the data model, collaborator interfaces and error
// taxonomy shared by the crawl orchestrator: sources, categories, products,
// checkpoints and the stores that persist them.
package catalog
