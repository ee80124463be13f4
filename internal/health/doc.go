// Package health provides composable probes and the liveness and
// readiness handlers served on both listeners.
//
// [All] combines probes, [Fixed] is a static result and [CheckFunc]
// adapts a function. [ContentDir] fails readiness while the content
// directory cannot be listed. [ShutdownGate] fails readiness during drain
// so load balancers stop routing before in-flight requests finish.
package health
