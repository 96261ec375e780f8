// Package bridge carries operator commands to the orchestrator over a WebSocket.
//
// An operator sends a command frame and receives zero or more event frames with the same id,
// followed by a done frame:
//
//	-> {"type":"command","id":"7","event":"installPackage","payload":{"name":"game","path":"/pkgs/game.pkg"}}
//	<- {"type":"event","id":"7","event":"notify","payload":{"type":"success","message":"Success"}}
//	<- {"type":"event","id":"7","event":"updateTask","payload":{"name":"game","status":"loading"}}
//	<- {"type":"done","id":"7"}
//
// Registry changes are broadcast to every operator as id-less updateTask and removeTask events.
//
// [Hub] is the server side and plugs into a server.BasicRouter. [Client] is the Go side used by
// the CLI and the terminal monitor.
package bridge
