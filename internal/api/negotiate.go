package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Media types understood by the parameter API.
const (
	mediaJSON     = "application/json"
	mediaYAML     = "application/yaml"
	mediaXYAML    = "application/x-yaml"
	mediaTextYAML = "text/yaml"
)

// representation is the negotiated form of a response body.
type representation struct {
	media    string
	metadata bool
}

func (r representation) yaml() bool {
	return r.media != mediaJSON
}

// negotiate picks a representation from an Accept header. An empty header
// means JSON. The metadata=true parameter on the chosen range asks for
// leaves rendered with their metadata.
func negotiate(accept string) (representation, error) {
	if strings.TrimSpace(accept) == "" {
		return representation{media: mediaJSON}, nil
	}

	best := representation{}
	bestQ := 0.0
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
		media := resolveMedia(mediaType)
		if media == "" || q <= 0 || q <= bestQ {
			continue
		}
		best = representation{media: media, metadata: params["metadata"] == "true"}
		bestQ = q
	}

	if best.media == "" {
		return representation{}, fmt.Errorf("%w: %q (supported: %s, %s)", ErrNotAcceptable, accept, mediaJSON, mediaYAML)
	}
	return best, nil
}

// resolveMedia maps an Accept range to the concrete type produced, or ""
// if none fits.
func resolveMedia(mediaType string) string {
	switch mediaType {
	case mediaJSON, "*/*", "application/*":
		return mediaJSON
	case mediaYAML, mediaXYAML, mediaTextYAML:
		return mediaType
	case "text/*":
		return mediaTextYAML
	default:
		return ""
	}
}

// decodeBody reads a PUT or POST body as JSON or YAML according to
// Content-Type. JSON is assumed when the header is absent. JSON numbers
// are kept as json.Number so integer and float literals stay distinct.
func decodeBody(r *http.Request) (any, error) {
	contentType := r.Header.Get("Content-Type")
	media := mediaJSON
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
		}
		media = parsed
	}

	isJSON := media == mediaJSON || strings.HasSuffix(media, "+json")
	isYAML := media == mediaYAML || media == mediaXYAML || media == mediaTextYAML
	if !isJSON && !isYAML {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, media)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrBadRequest, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: reading body: %w", ErrBadRequest, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: request body is required", ErrBadRequest)
	}

	if isYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: invalid YAML: %w", ErrBadRequest, err)
		}
		return stringKeys(v), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", ErrBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrBadRequest)
	}
	return v, nil
}

// stringKeys rewrites YAML mappings with non-string keys, such as
// sequence indices, to the map[string]any a JSON body decodes to.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

// render encodes data in the negotiated representation.
func render(w http.ResponseWriter, status int, rep representation, data any) error {
	var (
		body []byte
		err  error
	)
	if rep.yaml() {
		body, err = yaml.Marshal(data)
	} else {
		body, err = json.Marshal(data)
		body = append(body, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	w.Header().Set("Content-Type", rep.media)
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(body)
	return nil
}
