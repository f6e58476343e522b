package proxytext

import "encoding/json"

// JSON-RPC 2.0 协议类型

const (
	MethodToolsCall = "tools/call"
	ToolFetchFeed   = "fetch_feed"

	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request JSON-RPC 2.0 请求
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response JSON-RPC 2.0 响应
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      any         `json:"id,omitempty"`
	Result  *ToolResult `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError JSON-RPC 2.0 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// ToolCallParams tools/call 的参数
type ToolCallParams struct {
	Name      string        `json:"name"`
	Arguments FetchFeedArgs `json:"arguments"`
}

// FetchFeedArgs fetch_feed 工具的参数
type FetchFeedArgs struct {
	URL        string `json:"url"`
	MaxEntries int    `json:"max_entries,omitempty"`
}

// ToolResult 工具执行结果
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content 工具输出片段
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text 拼接结果中所有 text 类型的片段
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, c := range r.Content {
		if c.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Text
	}
	return out
}
