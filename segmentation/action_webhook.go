package segmentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// WebhookSender performs one outbound HTTP call
type WebhookSender interface {
	Send(ctx context.Context, method, url string, headers map[string]string, body []byte) error
}

const idPlaceholder = "{id}"

type webhookParams struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Params  map[string]string `json:"params"`
	Body    json.RawMessage   `json:"body"`
	DelayMS *int              `json:"delay_ms"`
}

var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

func decodeWebhookParams(raw json.RawMessage) (*webhookParams, error) {
	var p webhookParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	if p.Method == "" {
		p.Method = http.MethodPost
	}
	if !slices.Contains(allowedMethods, p.Method) {
		return nil, fmt.Errorf("unsupported method %q", p.Method)
	}
	u, err := url.Parse(strings.ReplaceAll(p.URL, idPlaceholder, "0"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http(s) url")
	}
	if p.DelayMS != nil && *p.DelayMS < 0 {
		return nil, fmt.Errorf("delay_ms must not be negative")
	}
	return &p, nil
}

// substitute replaces {id} in every string of a decoded JSON value
func substitute(v any, id string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, idPlaceholder, id)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ReplaceAll(k, idPlaceholder, id)] = substitute(val, id)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = substitute(val, id)
		}
		return out
	}
	return v
}

// request renders the call for one id
func (p *webhookParams) request(id int64) (target string, headers map[string]string, body []byte, err error) {
	sid := strconv.FormatInt(id, 10)
	u, err := url.Parse(strings.ReplaceAll(p.URL, idPlaceholder, sid))
	if err != nil {
		return "", nil, nil, err
	}
	if len(p.Params) > 0 {
		q := u.Query()
		for k, v := range p.Params {
			q.Set(strings.ReplaceAll(k, idPlaceholder, sid), strings.ReplaceAll(v, idPlaceholder, sid))
		}
		u.RawQuery = q.Encode()
	}
	headers = make(map[string]string, len(p.Headers)+1)
	for k, v := range p.Headers {
		headers[k] = strings.ReplaceAll(v, idPlaceholder, sid)
	}
	if !isNull(p.Body) {
		var decoded any
		dec := json.NewDecoder(bytes.NewReader(p.Body))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return "", nil, nil, err
		}
		if body, err = json.Marshal(substitute(decoded, sid)); err != nil {
			return "", nil, nil, err
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}
	return u.String(), headers, body, nil
}

// WebhookAction calls an HTTP endpoint once per target id, paced by delay_ms
type WebhookAction struct {
	sender       WebhookSender
	defaultDelay time.Duration
}

func NewWebhookAction(sender WebhookSender, defaultDelay time.Duration) *WebhookAction {
	return &WebhookAction{sender: sender, defaultDelay: defaultDelay}
}

func (a *WebhookAction) Type() string { return "send_request" }
func (a *WebhookAction) Entities() []Entity {
	return []Entity{EntityDocuments, EntityContragents}
}

func (a *WebhookAction) Validate(params json.RawMessage) error {
	_, err := decodeWebhookParams(params)
	return err
}

func (a *WebhookAction) Execute(ctx context.Context, req ActionRequest) error {
	p, err := decodeWebhookParams(req.Params)
	if err != nil {
		return err
	}
	delay := a.defaultDelay
	if p.DelayMS != nil {
		delay = time.Duration(*p.DelayMS) * time.Millisecond
	}
	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	var errs []error
	for _, id := range req.IDs {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				errs = append(errs, err)
				break
			}
		}
		target, headers, body, err := p.request(id)
		if err == nil {
			err = a.sender.Send(ctx, p.Method, target, headers, body)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("id %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
