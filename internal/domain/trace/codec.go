package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeRequest serializes a request for the worker channel.
func EncodeRequest(req Request) ([]byte, error) {
	b, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return b, nil
}

// DecodeRequest parses a request received by a worker.
func DecodeRequest(b []byte) (Request, error) {
	var req Request
	if err := msgpack.Unmarshal(b, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// EncodeResponse serializes a worker reply.
func EncodeResponse(resp Response) ([]byte, error) {
	b, err := msgpack.Marshal(&resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return b, nil
}

// DecodeResponse parses and validates a worker reply. Any decoding or shape
// problem is reported as ErrMalformed so callers can surface it as a failure.
func DecodeResponse(b []byte) (Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(b, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.ID == "" {
		return Response{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if err := resp.Result().Validate(); err != nil {
		return resp, err
	}
	return resp, nil
}

// Format names an output encoding for results.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat resolves a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

// Marshal encodes a result in the requested format.
func Marshal(res Result, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return sonic.MarshalIndent(res, "", "  ")
	case FormatYAML:
		return yaml.Marshal(res)
	case FormatTOML:
		return toml.Marshal(res)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// Write encodes a result to w.
func Write(w io.Writer, res Result, format Format) error {
	b, err := Marshal(res, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// DecodeJSON decodes a JSON result, as returned by the HTTP API.
func DecodeJSON(b []byte) (Result, error) {
	var res Result
	if err := sonic.Unmarshal(b, &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return res, res.Validate()
}
