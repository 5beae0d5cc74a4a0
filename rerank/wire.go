package rerank

// 线协议：每行一个 JSON 对象。
// 客户端 → 工作进程：request（带相关 ID）
// 工作进程 → 客户端：response（回显相关 ID）或 notification（无 ID）
const (
	methodRerank = "rerank"
	methodReady  = "ready"
)

// request 重排请求
type request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Query  string   `json:"query,omitempty"`
	Texts  []string `json:"texts,omitempty"`
}

// response 重排响应或通知。通知只有 Method 字段（如 "ready"）。
type response struct {
	ID     string     `json:"id,omitempty"`
	Method string     `json:"method,omitempty"`
	Scores []float64  `json:"scores,omitempty"`
	Error  *wireError `json:"error,omitempty"`
}

// wireError 工作进程内部错误的线上表示
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
