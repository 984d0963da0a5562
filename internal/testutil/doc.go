// Package testutil provides deterministic stand-ins for the pipeline's
// external collaborators: game fixtures, a scripted game source, a
// recording sleeper, a stepping wall clock and a fixed run ID generator.
//
// Nothing here touches the network or the real clock, so tests built on
// these helpers produce identical results on every run.
package testutil
