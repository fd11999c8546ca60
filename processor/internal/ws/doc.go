// Package ws pushes the live board to browser clients over WebSocket.
//
// Clients connect to /ws/board and immediately receive the current board.
// The hub then broadcasts {"event":"board","data":{...}} every interval and
// {"event":"alert","data":{...}} whenever an alert fires or resolves. Slow
// clients whose send buffer fills up are disconnected.
package ws
