// Package api provides the HTTP control surface of a live performance.
//
// The server exposes endpoints for:
//   - Compiling orchestra text into the running performance
//   - Appending score events, as JSON or score text
//   - Status and instrument listings
//   - A websocket stream of engine notifications
//   - Health checks and Prometheus metrics
package api
