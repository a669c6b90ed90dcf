package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const deepLinkScheme = "signinwithapple"

// CallbackParam is one key/value pair from Apple's callback.
type CallbackParam struct {
	Key   string
	Value string
}

// CallbackParams keeps the parameters in the order Apple sent them so the
// deep link is reproducible.
type CallbackParams []CallbackParam

// ParseCallbackQuery parses a raw query string or urlencoded form body.
// Unlike url.ParseQuery it keeps order and duplicates.
func ParseCallbackQuery(raw string) (CallbackParams, error) {
	params := CallbackParams{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("decode callback key: %w", err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("decode callback value for %q: %w", key, err)
		}
		params = append(params, CallbackParam{Key: key, Value: value})
	}
	return params, nil
}

// ParseCallbackJSON reads a flat JSON object in document order. Strings are
// taken as-is; other values keep their JSON text.
func ParseCallbackJSON(r io.Reader) (CallbackParams, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	params := CallbackParams{}
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return params, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode callback json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: json body must be an object", ErrUnsupportedBody)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode callback json: %w", err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode callback json value for %q: %w", key, err)
		}

		value := string(bytes.TrimSpace(raw))
		if strings.HasPrefix(value, `"`) {
			if err := json.Unmarshal(raw, &value); err != nil {
				return nil, fmt.Errorf("decode callback json value for %q: %w", key, err)
			}
		}
		params = append(params, CallbackParam{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode callback json: %w", err)
	}
	return params, nil
}

// Keys lists parameter names, for logging without values.
func (p CallbackParams) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, kv := range p {
		keys = append(keys, kv.Key)
	}
	return keys
}

// Encode form-encodes the pairs in order.
func (p CallbackParams) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// DeepLink builds the Android intent URI that hands the callback parameters
// to the app registered under androidPackage.
func DeepLink(params CallbackParams, androidPackage string) string {
	return "intent://callback?" + params.Encode() +
		"#Intent;package=" + androidPackage +
		";scheme=" + deepLinkScheme + ";end"
}
