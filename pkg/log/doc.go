// Package log provides structured logging for flockd using zerolog: a
// global logger initialised once via Init, and component/reqid/pool
// child loggers for everything downstream.
package log
