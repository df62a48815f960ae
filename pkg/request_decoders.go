package pkg

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

var ErrMalformedRequest = errors.New("malformed request")

// MaxFormBodySize limits the urlencoded bodies read by ReadFormFields.
const MaxFormBodySize = 1 << 20

// ParseCookies parses a raw Cookie header value: key=value pairs separated by "; ".
// Keys and values are taken verbatim, the last duplicate wins and pairs without '=' are skipped.
func ParseCookies(header string) map[string]string {
	cookies := make(map[string]string)
	if header == "" {
		return cookies
	}

	for _, pair := range strings.Split(header, "; ") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		cookies[key] = value
	}

	return cookies
}

// ParseFormFields parses an application/x-www-form-urlencoded body.
// Malformed pairs (no '=') are skipped, the pairs decoded before them are kept.
func ParseFormFields(body string) map[string]string {
	fields := make(map[string]string)
	if body == "" {
		return fields
	}

	for _, pair := range strings.Split(body, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		fields[formUnescape(key)] = formUnescape(value)
	}

	return fields
}

func formUnescape(s string) string {
	unescaped, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return unescaped
}

// ReadFormFields reads the form fields of a request body, which is either multipart/form-data
// or application/x-www-form-urlencoded. Only the first value of a multipart field is kept.
// Multipart fields sent as file parts (with a filename) are read from their content.
func ReadFormFields(r *http.Request, maxMemory int64) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		fields := make(map[string]string, len(r.MultipartForm.Value))
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
		for key := range r.MultipartForm.File {
			if _, ok := fields[key]; ok {
				continue
			}
			value, ok, err := MultipartFieldValue(r.MultipartForm, key)
			if err != nil {
				return nil, err
			}
			if ok {
				fields[key] = value
			}
		}
		return fields, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxFormBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return ParseFormFields(BytesToString(body)), nil
}

// MultipartFieldValue returns the first value of a multipart field, whether it was sent
// as a plain value or as a file part. File parts larger than MaxFormBodySize are not
// form fields and are reported as missing.
func MultipartFieldValue(form *multipart.Form, name string) (string, bool, error) {
	if form == nil {
		return "", false, nil
	}
	if values := form.Value[name]; len(values) > 0 {
		return values[0], true, nil
	}

	headers := form.File[name]
	if len(headers) == 0 || headers[0].Size > MaxFormBodySize {
		return "", false, nil
	}

	f, err := headers[0].Open()
	if err != nil {
		return "", false, fmt.Errorf("%w: open field %s: %w", ErrMalformedRequest, name, err)
	}
	defer f.Close()

	value, err := io.ReadAll(f)
	if err != nil {
		return "", false, fmt.Errorf("%w: read field %s: %w", ErrMalformedRequest, name, err)
	}
	return string(value), true, nil
}
