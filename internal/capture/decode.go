package capture

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// BinaryBody is how payloads that are not valid UTF-8 are kept.
type BinaryBody struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// DecodeBody normalizes a raw payload according to its declared content type.
// It never fails: anything it cannot interpret is kept as text or base64.
func DecodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}

	mediaType, charset := parseContentType(contentType)
	switch {
	case isJSON(mediaType):
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil && !dec.More() {
			return v
		}
		return textOrBinary(raw)
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil || !utf8.Valid(raw) {
			return textOrBinary(raw)
		}
		return Flatten(values)
	case isText(mediaType):
		if text, ok := decodeCharset(charset, raw); ok {
			return text
		}
		return textOrBinary(raw)
	default:
		return textOrBinary(raw)
	}
}

// Flatten turns url.Values into a flat mapping: a key with one value maps to
// that string, a repeated key to the list of its values.
func Flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		switch len(vs) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = vs[0]
		default:
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// Decompress undoes a gzip or deflate Content-Encoding. It returns raw
// unchanged when the encoding is unknown or the payload does not decode.
func Decompress(encoding string, raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	var (
		r   io.ReadCloser
		err error
	)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(raw))
	case "deflate":
		r, err = zlib.NewReader(bytes.NewReader(raw))
	default:
		return raw
	}
	if err != nil {
		return raw
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil || len(out) == 0 {
		return raw
	}
	return out
}

func textOrBinary(raw []byte) any {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return BinaryBody{Encoding: "base64", Data: base64.StdEncoding.EncodeToString(raw)}
}

func parseContentType(contentType string) (mediaType, charset string) {
	if contentType == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt)), strings.ToLower(params["charset"])
}

// decodeCharset converts text in a declared non-UTF-8 charset to UTF-8.
func decodeCharset(charset string, raw []byte) (string, bool) {
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return "", false
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func isJSON(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func isText(mt string) bool {
	if strings.HasPrefix(mt, "text/") || strings.HasSuffix(mt, "+xml") {
		return true
	}
	switch mt {
	case "application/xml", "application/javascript", "application/graphql", "application/x-ndjson":
		return true
	}
	return false
}
