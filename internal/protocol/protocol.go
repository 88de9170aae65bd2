// Package protocol defines the wire contract between the trusted
// supervisor and the untrusted in-sandbox program: stdout sentinel
// prefixes, the /ptc filesystem layout, and the request/response file
// shapes.
package protocol

import "fmt"

const (
	// RootDir is the directory prefix every generated and runtime file
	// lives under inside the sandbox.
	RootDir = "/ptc"

	StubsFileName   = "index"
	RuntimeFileName = "runtime"
	MainFileName    = "main"
	CacheFileName   = "cache"

	RequestsDir  = RootDir + "/requests"
	ResponsesDir = RootDir + "/responses"

	// SentinelToolRequest precedes a request ID: a tool call is ready to
	// be read from RequestsDir.
	SentinelToolRequest = "__PTC_TOOL_REQUEST__"
	// SentinelFinal precedes a JSON result payload: the program returned
	// normally.
	SentinelFinal = "__PTC_FINAL__"
	// SentinelError precedes a JSON {"message": string} payload: the
	// program threw.
	SentinelError = "__PTC_ERROR__"
)

// RequestPath returns the path of the request file for a given call.
func RequestPath(requestID string) string {
	return fmt.Sprintf("%s/%s.json", RequestsDir, requestID)
}

// ResponsePath returns the path of the response file for a given call.
func ResponsePath(requestID string) string {
	return fmt.Sprintf("%s/%s.json", ResponsesDir, requestID)
}

// StubsPath, RuntimePath, MainPath, CachePath return the fixed paths of
// the three assembler-emitted files and the runtime's cache file.
func StubsPath(ext string) string   { return fmt.Sprintf("%s/%s.%s", RootDir, StubsFileName, ext) }
func RuntimePath(ext string) string { return fmt.Sprintf("%s/%s.%s", RootDir, RuntimeFileName, ext) }
func MainPath(ext string) string    { return fmt.Sprintf("%s/%s.%s", RootDir, MainFileName, ext) }
func CachePath(ext string) string   { return fmt.Sprintf("%s/%s.%s", RootDir, CacheFileName, ext) }
