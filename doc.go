// Package splitcache is a typed front-end over a partition-aware cache command chain.
//
// Every call becomes a command.Command that runs through an interceptor.Chain. A
// clustered node chains, in order:
//
//	metrics       counts and times every command
//	partition     refuses operations the availability oracle says are unsafe
//	distribution  routes keys to their live owners and replicates writes
//	store         executes the command against a provider.Provider
//
// Options.Chain takes such a chain. Without one, New builds a single-node chain over
// Options.Provider, which is all a process-local cache needs.
//
// Reads that cannot be answered safely while the cluster is partitioned fail with a
// *partition.AvailabilityError naming the keys; use errors.Is(err,
// partition.ErrDegradedMode) to detect them.
package splitcache
