// Package prometheus renders Coordinator counters, the validate latency histogram and
// retry statistics in Prometheus text exposition format.
//
// Counter names are prefixed authd_ and end in _total. Nothing is registered in a
// global registry; callers mount Handler where they want it.
package prometheus
