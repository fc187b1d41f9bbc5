// Package harvest defines the core types and collaborator interfaces shared by the
// scheduling, queueing, supervision and batch subsystems.
//
// A harvesting pass is represented by a BatchJob. The admission controller decides when a
// BatchJob may be enqueued, the dispatcher claims it from the Queue, and the batch runner
// executes one Harvester invocation per ProfileTarget before triggering the downstream sync.
package harvest
