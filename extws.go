// Package extws is a real-time messaging core for websocket clients.
//
//	extws -addr=:8080 -config=extws.yaml
//
// Every accepted socket gets a connection id, announced to the client in an
// init frame. The wire protocol is text, one frame per websocket message,
// typed by its first character:
//
//	1{"id":"..."}    init, server to client
//	2                ping, client to server
//	3                pong, server to client
//	4<name><json>    named message, both directions
//
// The name of a message ends at the first '{' or '[' which starts its JSON
// payload, so names never contain those characters. Nameless messages
// (4{"foo":"bar"}) are what broadcasts and group sends carry by default.
//
// A ping is answered with a pong without involving the application. A named
// message is passed to the HandlerFunc registered for its name, and a
// non-nil reply goes back to the same connection under the same name.
//
// Connections join and leave groups. Sending to a group reaches exactly its
// members at call time; a member whose socket fails is disconnected and the
// rest still receive the message. Sending to an id that is gone is a no-op.
//
// A connection is torn down exactly once, whether the peer closed the
// socket, the application called Disconnect, or a transport call failed.
//
// Publish over HTTP by POSTing a JSON body.
//
//	curl localhost:8080/groups/news?name=headline -d '{"title":"Hello"}'
package extws
