// Package clock provides the wall-clock source used to stamp record
// updates. Timestamps only break ties between records that reached the
// same version on different nodes, so tests swap in a Manual clock to make
// those ties deterministic.
package clock
