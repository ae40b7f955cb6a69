// Package app wires the long-running loops together.
//
// Scheduler is the merge loop: it waits on the source registry's update
// signal (bounded by the poll timeout), assembles one MergedSnapshot and hands
// it to the hub. Bridge starts the scheduler plus one goroutine per source
// subscriber and tears them down in order on shutdown.
package app
