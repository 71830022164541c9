// Package engine compiles the tables of a dataset as one batch run.
//
// A run compiles tables through a bounded worker pool sharing one
// compiler, so schema descriptors, catalog lookups and policy decisions are
// fetched once per run no matter how many workers ask for them.
//
// Results are reported in input order. A failing table does not abort the
// batch; its error is recorded next to the plans of the tables that did
// compile. When a registry is configured every plan and failure is
// appended under the run id.
//
// Cancellation is the caller cancelling ctx. Tables still waiting for a
// worker report the context error and are never registered.
package engine
