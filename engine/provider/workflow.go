package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// WorkflowConfig configures a hosted-workflow provider.
type WorkflowConfig struct {
	Name       string
	URL        string
	Token      string
	WorkflowID string
	Timeout    time.Duration
}

// WorkflowProvider runs a hosted workflow. Its envelope is
// {"code":0,"msg":"","data":"<json string with an output field>"}.
type WorkflowProvider struct {
	name   string
	url    string
	flowID string
	client *resty.Client
}

func NewWorkflow(cfg *WorkflowConfig) (*WorkflowProvider, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("workflow provider: url is required")
	}
	if cfg.WorkflowID == "" {
		return nil, fmt.Errorf("workflow provider: workflow id is required")
	}
	name := cfg.Name
	if name == "" {
		name = "workflow"
	}
	return &WorkflowProvider{
		name:   name,
		url:    cfg.URL,
		flowID: cfg.WorkflowID,
		client: newHTTPClient(cfg.Timeout, cfg.Token),
	}, nil
}

func (p *WorkflowProvider) Name() string { return p.name }

func (p *WorkflowProvider) Call(ctx context.Context, req *Request) (string, error) {
	body := map[string]any{
		"workflow_id": p.flowID,
		"parameters": map[string]string{
			"examTopic":          req.Topic,
			"inputExamPaperSamp": req.SourceDocument,
			"examPaperEnSource":  req.SourceTag,
			"segmentIdSelf":      req.SegmentTag,
		},
	}
	payload, err := post(ctx, p.client, p.name, p.url, body)
	if err != nil {
		return "", err
	}
	return p.parse(payload)
}

func (p *WorkflowProvider) parse(payload []byte) (string, error) {
	if !gjson.ValidBytes(payload) {
		return "", fmt.Errorf("%w: %s returned a non-JSON envelope", ErrUpstream, p.name)
	}
	env := gjson.ParseBytes(payload)
	if code := env.Get("code"); code.Exists() && code.Int() != 0 {
		return "", fmt.Errorf("%w: %s code %d: %s", ErrUpstream, p.name, code.Int(), env.Get("msg").String())
	}
	data := env.Get("data")
	if data.Type != gjson.String {
		return "", fmt.Errorf("%w: %s data is not a string", ErrUpstream, p.name)
	}
	output := gjson.Get(data.String(), "output")
	if output.Type != gjson.String || strings.TrimSpace(output.String()) == "" {
		return "", fmt.Errorf("%w: %s returned empty output", ErrUpstream, p.name)
	}
	return output.String(), nil
}
