// Package retry provides retries with exponential backoff for single
// units of work against provider APIs.
//
// A Policy declares the attempt budget, backoff curve and a predicate
// classifying errors as retryable or fatal-immediate. ProviderAPIPolicy
// is the preset used for collector calls.
package retry
