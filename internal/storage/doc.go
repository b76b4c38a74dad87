// Package storage provides the per-node replica: an in-memory map from
// product key to the current Record together with its version number and
// update time. Absence of a key is equivalent to version 0.
package storage
