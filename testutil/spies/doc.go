// Package spies provides test doubles capturing log records, metrics and tracing spans.
package spies
