// Package repair converges replicas. The merge engine decides whether an
// incoming record supersedes the local one using a total order over
// (version, updatedAt, origin); the anti-entropy puller fetches full peer
// snapshots and feeds every entry through the merge engine.
package repair
