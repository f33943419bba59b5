// Package store persists user records and assistant conversations.
//
// The canonical backend is MongoDB (users and conversations collections).
// An in-memory implementation with the same behavior backs the test suites
// of the packages that depend on storage.
package store
