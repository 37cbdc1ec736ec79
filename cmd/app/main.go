// Command chat-agent runs the conversational agent as an interactive CLI, an
// HTTP API or an MCP server.
package main

func main() {
	Execute()
}
