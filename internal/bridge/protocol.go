package bridge

import (
	"encoding/json"
)

// Wire format: newline-delimited UTF-8, one JSON object per line.
// Request:  {"id":N,"method":"...","params":{...}}
// Response: {"id":N,"result":...} or {"id":N,"error":{"message":"...","code":"..."}}
// The interpreter's stderr is diagnostics only and never reaches this layer.

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type response struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RemoteError    `json:"error"`
}

// parseResponse decodes one stdout line. ok is false for anything that is
// not a response carrying an id: malformed JSON, JSON scalars, or id-less
// objects such as the analyzer's ready banner.
func parseResponse(line string) (response, bool) {
	var resp response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return response{}, false
	}
	if resp.ID == nil {
		return response{}, false
	}
	return resp, true
}

// Recognized method names. The analyzer script dispatches on these.
const (
	MethodParse          = "parse"
	MethodCompile        = "compile"
	MethodTokenize       = "tokenize"
	MethodAnalyze        = "analyze"
	MethodResolveStdlib  = "resolveStdlib"
	MethodResolveInclude = "resolveInclude"
	MethodGetInherited   = "getInherited"
	MethodHealth         = "health"
	methodBatch          = "batch"
)
