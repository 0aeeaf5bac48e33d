// Package webchat is the reference chat backend: REST handlers over a chat store,
// websocket rooms per conversation plus an admin inbox room, and an event stream
// that fans persisted writes out to those rooms.
//
// Ownership model:
//   - REST handlers persist through chatstore.Store and publish chat.Event values on
//     the event stream. They never write to websockets directly.
//   - The Forwarder consumes the stream and broadcasts frames to the rooms held by
//     this instance. With Redis Streams every instance runs its own forwarder.
//   - StreamHub owns websocket connections: room membership, typing relay, ping/pong.
//
// Recommended setup:
//   - Build a Server with NewServer and call Run.
//   - Tests can mount Server.Handler() on an httptest.Server and drive it with the
//     chatclient package.
package webchat
