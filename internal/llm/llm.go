package llm

import "context"

// Request 描述一次大模型补全请求。规划器负责构造完整的提示词，
// 客户端只做传输，不理解提示词的结构。
type Request struct {
	System      string
	Prompt      string
	Temperature float64
}

// Response 是大模型返回的原始文本。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
