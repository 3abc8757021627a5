// Package dispatch runs phrase jobs on a bounded worker pool shared by all
// participants and delivers each participant's results in submission order.
// Every stream assigns consecutive sequence indices to its jobs and restores
// their order with a ReorderBuffer before handing results to its sink.
package dispatch
