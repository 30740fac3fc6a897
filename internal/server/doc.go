// Package server implements the HTTP and WebSocket surface of the fan-out
// service.
//
// The implementation is organized into specialized files for clients, the
// inbound frame protocol, origin checks, routing, and HTTP handlers. Room
// membership lives in the hub package and delivery in the dispatch package;
// this package only accepts connections and turns client frames into
// notifications.
package server
