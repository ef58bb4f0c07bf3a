// Package push delivers server-pushed notifications while no application
// instance is running.
//
// Messages arrive either on a websocket stream (Listener) or through the
// control API webhook. Each is parsed tolerantly and shown through a
// Notifier. A user interaction focuses an existing application instance
// showing the target URL, or opens a new one through a Launcher.
package push
