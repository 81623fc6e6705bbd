// Package structure owns the parent cluster model and the pruning step that
// turns one occupancy vector into a candidate structure.
//
// A parent lists its metal sites first, followed by the non-metal sites.
// Pruning keeps the occupied metal sites and every non-metal site that
// still has a retained metal neighbour strictly closer than the bonding
// threshold. Pruning is deterministic and performs no I/O.
package structure
