// Package diagnostics reports host resource usage for the health endpoint
// and gates worker job claims on memory pressure.
//
// The package implements two components:
//
//   - Collector: samples memory, CPU, disk and load averages through
//     gopsutil and enumerates graphics cards through ghw. Hardware facts
//     are read once; CPU usage is derived from the delta between calls.
//
//   - MemoryGuard: compares current memory usage to a configured ceiling
//     so the worker can stop claiming new jobs while the host is saturated.
package diagnostics
