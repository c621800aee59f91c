// SPDX-License-Identifier: MPL-2.0

// Package benchmark provides benchmarks for PGO profile generation.
// They cover the hot paths of a modlink build:
//   - import parsing and classification
//   - CUE configuration loading
//   - package location, cold and cached
//   - the full build pipeline
//
// To generate a profile, run:
//
//	go test -run=^$ -bench=. -cpuprofile=default.pgo ./internal/benchmark
package benchmark
