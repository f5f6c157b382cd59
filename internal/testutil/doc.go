// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing run records and scripting the
// executor and chat surfaces. These helpers are intentionally minimal and
// are not intended for production usage.
package testutil
