// Package engine implements the action-execution facade: validation,
// conflict resolution, and transactional orchestration of rule executors.
//
// ARCHITECTURE:
//
// One Execute call, one transaction:
// Execute(action, snapshot) validates the action against the catalog, builds
// an execution plan, begins a transaction, acquires each rule's declared
// resource locks, runs executors in descending-priority order, and commits
// or rolls back. The TransactionContext never outlives the call.
//
// Execution flow:
//  1. Build ExecutionContext from action + snapshot (UnknownActor if the
//     acting entity is absent).
//  2. Validator runs applicable rules' validators in priority order,
//     consulting the TTL cache first.
//  3. Resolver prunes conflicting and dependency-starved rules, ordering
//     the survivors through the priority queue.
//  4. Per rule: acquire locks (the only suspension point), run the executor
//     under its circuit breaker, apply state changes, register revert
//     closures.
//  5. Commit on full success; roll back on failure, timeout, deadlock
//     victimhood, or panic.
//
// CRITICAL PATTERNS:
//
// Determinism:
// Within one execution, rules run strictly in descending-priority order with
// ties broken by registration order. No randomness in the plan.
//
// Mutation discipline:
// Rules never touch shared state. All mutation is expressed as StateChange
// records the orchestrator applies through the host's StateApplier after an
// executor returns. Resource ids are logical paths, which is what makes
// locking tractable.
//
// Observers never block:
// All telemetry hooks dispatch through the async Notifier; a slow listener
// drops events rather than stalling the execution path.
package engine
