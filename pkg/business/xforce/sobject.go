package xforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
)

var (
	sobjectPattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{15}(?:[A-Za-z0-9]{3})?$`)
	fieldPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)
)

type createResponse struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	Errors  []ErrorEntry `json:"errors"`
}

// Create 新建记录并返回 Id。
func (c *Client) Create(ctx context.Context, kind string, fields map[string]any) (id string, err error) {
	if err := validateKind(kind); err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", ErrEmptyFields
	}
	ctx, span := c.startSpan(ctx, MetricsOpCreate, xmetrics.String(MetricsAttrSObject, kind))
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	resp, err := c.call(ctx, http.MethodPost, c.sobjectPath(kind, ""), fields)
	if err != nil {
		return "", err
	}

	var cr createResponse
	if err := json.Unmarshal(resp.body, &cr); err != nil {
		return "", fmt.Errorf("%w: create response: %w", ErrResponseInvalid, err)
	}
	if !cr.Success || cr.ID == "" {
		apiErr := parseAPIError(resp.status, mustMarshal(cr.Errors), resp.requestID)
		if len(cr.Errors) == 0 {
			apiErr.Message = "create reported no id"
		}
		return "", apiErr
	}
	return cr.ID, nil
}

// Update 部分更新记录。成功响应为 204，响应体不解析。
func (c *Client) Update(ctx context.Context, kind, id string, fields map[string]any) (err error) {
	if err := validateRef(kind, id); err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrEmptyFields
	}
	ctx, span := c.startSpan(ctx, MetricsOpUpdate, xmetrics.String(MetricsAttrSObject, kind))
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	_, err = c.call(ctx, http.MethodPatch, c.sobjectPath(kind, id), fields)
	return err
}

// Delete 删除记录。成功响应为 204，响应体不解析。
func (c *Client) Delete(ctx context.Context, kind, id string) (err error) {
	if err := validateRef(kind, id); err != nil {
		return err
	}
	ctx, span := c.startSpan(ctx, MetricsOpDelete, xmetrics.String(MetricsAttrSObject, kind))
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	_, err = c.call(ctx, http.MethodDelete, c.sobjectPath(kind, id), nil)
	return err
}

// Retrieve 按 Id 读取记录，fields 为空时返回全部字段。
func (c *Client) Retrieve(ctx context.Context, kind, id string, fields ...string) (Record, error) {
	return RetrieveAs[Record](ctx, c, kind, id, fields...)
}

// RetrieveAs 按 Id 读取记录并解码为 T。不存在时返回的错误满足 IsNotFound。
func RetrieveAs[T any](ctx context.Context, c *Client, kind, id string, fields ...string) (out T, err error) {
	if err := validateRef(kind, id); err != nil {
		return out, err
	}
	for _, f := range fields {
		if !fieldPattern.MatchString(f) {
			return out, fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
	}
	ctx, span := c.startSpan(ctx, MetricsOpRetrieve, xmetrics.String(MetricsAttrSObject, kind))
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	path := c.sobjectPath(kind, id)
	if len(fields) > 0 {
		path += "?" + url.Values{"fields": {strings.Join(fields, ",")}}.Encode()
	}
	resp, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return out, fmt.Errorf("%w: retrieve response: %w", ErrResponseInvalid, err)
	}
	return out, nil
}

func (c *Client) sobjectPath(kind, id string) string {
	p := c.config.DataPath() + "/sobjects/" + kind + "/"
	if id != "" {
		p += id
	}
	return p
}

func validateKind(kind string) error {
	if !sobjectPattern.MatchString(kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return nil
}

func validateRef(kind, id string) error {
	if err := validateKind(kind); err != nil {
		return err
	}
	if !recordIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
