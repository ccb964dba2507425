package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// ServiceConfig configures a model-serving provider.
type ServiceConfig struct {
	Name    string
	URL     string
	Token   string
	Model   string
	Timeout time.Duration
}

// ServiceProvider calls a generation service whose envelope is
// {"success":true,"message":"","data":"<generated text>"}.
type ServiceProvider struct {
	name   string
	url    string
	model  string
	client *resty.Client
}

func NewService(cfg *ServiceConfig) (*ServiceProvider, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("service provider: url is required")
	}
	name := cfg.Name
	if name == "" {
		name = "service"
	}
	return &ServiceProvider{
		name:   name,
		url:    cfg.URL,
		model:  cfg.Model,
		client: newHTTPClient(cfg.Timeout, cfg.Token),
	}, nil
}

func (p *ServiceProvider) Name() string { return p.name }

func (p *ServiceProvider) Call(ctx context.Context, req *Request) (string, error) {
	body := map[string]string{
		"inputExamPaperSamp": req.SourceDocument,
		"examTopic":          req.Topic,
	}
	if p.model != "" {
		body["model"] = p.model
	}
	if req.SourceTag != "" {
		body["examPaperEnSource"] = req.SourceTag
	}
	if req.SegmentTag != "" {
		body["segmentIdSelf"] = req.SegmentTag
	}
	payload, err := post(ctx, p.client, p.name, p.url, body)
	if err != nil {
		return "", err
	}
	env := gjson.ParseBytes(payload)
	if !env.Get("success").Bool() {
		msg := env.Get("message").String()
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%w: %s: %s", ErrUpstream, p.name, msg)
	}
	data := env.Get("data").String()
	if strings.TrimSpace(data) == "" {
		return "", fmt.Errorf("%w: %s returned empty data", ErrUpstream, p.name)
	}
	return data, nil
}
