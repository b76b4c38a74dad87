// Package session tracks per-session consistency tokens. A token records,
// for each key, the minimum version the session is entitled to observe.
// Before a read or write the tracker compares the replica against the
// token and runs a bounded number of anti-entropy sweeps when the replica
// lags, giving each session Read-Your-Writes, Monotonic-Reads and
// Writes-Follow-Reads on top of an eventually consistent store.
package session
