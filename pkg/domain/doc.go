// Package domain contains types of resources the orchestrator manages.
//
// A Resource is one version of a data mapping, a source system or a machine
// annotation service. Its state is spread over systems:
//
//   - the PID registry issues its id (`domain/pid`),
//   - the database records every version (`domain/record/db`),
//   - kubernetes runs its workloads (`domain/deployment`),
//   - and the provenance event bus is told of each change (`domain/provenance`).
//
// `domain/lifecycle` coordinates them. A create, update or tombstone runs as a
// saga (`domain/saga`): when a step fails, steps done so far are undone in reverse.
package domain
