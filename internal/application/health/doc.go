// Package health probes collaborator availability in the background
// and caches the results for the health endpoint.
package health
