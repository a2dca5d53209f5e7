// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/executions/:account/:id/ws to receive
// progress events while an optimization run executes.
package websocket
