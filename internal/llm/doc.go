// Package llm drives the question loop's language model collaborators: the question
// generator that picks the next discriminating question and the deriver that rewrites
// a product description into a semantic search query. Calls go through any
// OpenAI-compatible chat completion endpoint with rate limiting and retry.
package llm
