package artifact

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrUnsupportedPayload = errors.New("unsupported payload")

// Payload is a normalized format: the bytes to upload and their MIME type.
type Payload struct {
	Data     []byte
	MimeType string
}

type formatInfo struct {
	mimeType  string
	extension string
}

var knownFormats = map[string]formatInfo{
	"markdown": {mimeType: "text/markdown; charset=utf-8", extension: "md"},
	"md":       {mimeType: "text/markdown; charset=utf-8", extension: "md"},
	"html":     {mimeType: "text/html; charset=utf-8", extension: "html"},
	"txt":      {mimeType: "text/plain; charset=utf-8", extension: "txt"},
	"text":     {mimeType: "text/plain; charset=utf-8", extension: "txt"},
	"json":     {mimeType: "application/json", extension: "json"},
	"pdf":      {mimeType: "application/pdf", extension: "pdf"},
	"epub":     {mimeType: "application/epub+zip", extension: "epub"},
	"docx":     {mimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", extension: "docx"},
}

// Normalize turns plain text, a data URI, raw bytes or a
// {data, encoding, mimeType} object into a Payload.
func Normalize(format string, raw any) (Payload, error) {
	format = strings.ToLower(strings.TrimSpace(format))

	switch value := raw.(type) {
	case nil:
		return Payload{}, fmt.Errorf("%w: %s has no content", ErrUnsupportedPayload, format)
	case string:
		if strings.HasPrefix(value, "data:") {
			return decodeDataURI(value)
		}

		if value == "" {
			return Payload{}, fmt.Errorf("%w: %s is empty", ErrUnsupportedPayload, format)
		}

		return Payload{Data: []byte(value), MimeType: mimeFor(format, []byte(value))}, nil
	case []byte:
		if len(value) == 0 {
			return Payload{}, fmt.Errorf("%w: %s is empty", ErrUnsupportedPayload, format)
		}

		return Payload{Data: value, MimeType: mimeFor(format, value)}, nil
	case map[string]any:
		if _, ok := value["data"]; ok {
			return decodeStructured(format, value)
		}

		if format == "json" {
			return marshalJSON(value)
		}
	case []any:
		if format == "json" {
			return marshalJSON(value)
		}
	}

	return Payload{}, fmt.Errorf("%w: %s payload of type %T", ErrUnsupportedPayload, format, raw)
}

func decodeStructured(format string, value map[string]any) (Payload, error) {
	data, ok := value["data"].(string)
	if !ok || data == "" {
		return Payload{}, fmt.Errorf("%w: %s data must be a non-empty string", ErrUnsupportedPayload, format)
	}

	var buf []byte

	encoding, _ := value["encoding"].(string)
	switch strings.ToLower(encoding) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %s base64: %w", ErrUnsupportedPayload, format, err)
		}

		buf = decoded
	case "", "utf8", "utf-8", "text":
		if strings.HasPrefix(data, "data:") {
			return decodeDataURI(data)
		}

		buf = []byte(data)
	default:
		return Payload{}, fmt.Errorf("%w: %s encoding %q", ErrUnsupportedPayload, format, encoding)
	}

	mimeType, _ := value["mimeType"].(string)
	if mimeType == "" {
		mimeType, _ = value["mime_type"].(string)
	}

	if mimeType == "" {
		mimeType = mimeFor(format, buf)
	}

	return Payload{Data: buf, MimeType: mimeType}, nil
}

// decodeDataURI handles data:[<mime>][;base64],<data>.
func decodeDataURI(uri string) (Payload, error) {
	header, data, found := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !found {
		return Payload{}, fmt.Errorf("%w: malformed data URI", ErrUnsupportedPayload)
	}

	params := strings.Split(header, ";")
	mimeType := params[0]
	isBase64 := false

	var extra []string

	for _, param := range params[1:] {
		if param == "base64" {
			isBase64 = true

			continue
		}

		extra = append(extra, param)
	}

	var (
		buf []byte
		err error
	)

	if isBase64 {
		buf, err = base64.StdEncoding.DecodeString(data)
	} else {
		var unescaped string

		unescaped, err = url.PathUnescape(data)
		buf = []byte(unescaped)
	}

	if err != nil {
		return Payload{}, fmt.Errorf("%w: data URI: %w", ErrUnsupportedPayload, err)
	}

	if len(buf) == 0 {
		return Payload{}, fmt.Errorf("%w: empty data URI", ErrUnsupportedPayload)
	}

	if mimeType == "" {
		mimeType = mimetype.Detect(buf).String()
	} else if len(extra) > 0 {
		mimeType += "; " + strings.Join(extra, "; ")
	}

	return Payload{Data: buf, MimeType: mimeType}, nil
}

func marshalJSON(value any) (Payload, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return Payload{}, fmt.Errorf("%w: json: %w", ErrUnsupportedPayload, err)
	}

	return Payload{Data: data, MimeType: knownFormats["json"].mimeType}, nil
}

// mimeFor prefers the sniffed type unless it is generic, then the format's
// declared type.
func mimeFor(format string, data []byte) string {
	detected := mimetype.Detect(data)

	info, known := knownFormats[format]
	if !known {
		return detected.String()
	}

	if detected.Is("text/plain") || detected.Is("application/octet-stream") {
		return info.mimeType
	}

	if strings.HasPrefix(info.mimeType, "text/") && strings.HasPrefix(detected.String(), "text/") {
		return info.mimeType
	}

	return detected.String()
}

// Extension picks the file extension of a format.
func Extension(format, mimeType string) string {
	if info, ok := knownFormats[strings.ToLower(format)]; ok {
		return info.extension
	}

	if m := mimetype.Lookup(strings.TrimSpace(strings.Split(mimeType, ";")[0])); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}

	return "bin"
}

// IsTextual reports whether a payload can be snapshotted as text.
func IsTextual(mimeType string) bool {
	base := strings.TrimSpace(strings.Split(mimeType, ";")[0])

	return strings.HasPrefix(base, "text/") || base == "application/json"
}

var unsafeTitle = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeTitle makes a title safe for use as an object name.
func SanitizeTitle(title string) string {
	clean := strings.Trim(unsafeTitle.ReplaceAllString(strings.ToLower(title), "-"), "-")

	if len(clean) > 80 {
		clean = strings.TrimRight(clean[:80], "-")
	}

	if clean == "" {
		return "book"
	}

	return clean
}
