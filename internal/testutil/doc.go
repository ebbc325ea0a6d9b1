// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing core model objects (sessions,
// interaction records), controlling time and starting throwaway Redis
// containers. They are not intended for production usage.
package testutil
