package pkg

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCookies(t *testing.T) {
	res := ParseCookies("test=1235; test2=9876")
	assert.Len(t, res, 2)
	assert.Equal(t, "1235", res["test"])
	assert.Equal(t, "9876", res["test2"])

	res = ParseCookies("user=ahu")
	assert.Len(t, res, 1)
	assert.Equal(t, "ahu", res["user"])

	res = ParseCookies("test=1235; test2=9876; boeh=bah")
	assert.Len(t, res, 3)
	assert.Equal(t, "1235", res["test"])
	assert.Equal(t, "9876", res["test2"])
	assert.Equal(t, "bah", res["boeh"])
}

func TestParseCookies_EdgeCases(t *testing.T) {
	assert.Empty(t, ParseCookies(""))

	// last one wins
	res := ParseCookies("session=a; session=b")
	assert.Equal(t, map[string]string{"session": "b"}, res)

	// split on the first '=' only, no decoding
	res = ParseCookies("token=abc=def; x=%20")
	assert.Equal(t, "abc=def", res["token"])
	assert.Equal(t, "%20", res["x"])

	res = ParseCookies("broken; session=AQAAAAAAAAA")
	assert.Equal(t, map[string]string{"session": "AQAAAAAAAAA"}, res)
}

func TestParseFormFields(t *testing.T) {
	res := ParseFormFields("user=ahu&password=Super123Secret")
	assert.Len(t, res, 2)
	assert.Equal(t, "ahu", res["user"])
	assert.Equal(t, "Super123Secret", res["password"])
}

func TestParseFormFields_EdgeCases(t *testing.T) {
	assert.Empty(t, ParseFormFields(""))

	res := ParseFormFields("user=ahu&broken&password=x=y")
	assert.Equal(t, map[string]string{"user": "ahu", "password": "x=y"}, res)

	res = ParseFormFields("title=hello+world&caption=a%26b&bad=%zz")
	assert.Equal(t, "hello world", res["title"])
	assert.Equal(t, "a&b", res["caption"])
	assert.Equal(t, "%zz", res["bad"])

	res = ParseFormFields("empty=&=novalue")
	assert.Equal(t, "", res["empty"])
	assert.Equal(t, "novalue", res[""])
}

func TestReadFormFields_URLEncoded(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("user=ahu&password=Super123Secret"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	fields, err := ReadFormFields(req, 1024)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "ahu", "password": "Super123Secret"}, fields)
}

func TestReadFormFields_Multipart(t *testing.T) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("title", "my title"))
	require.NoError(t, mw.WriteField("caption", "first"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/set-post-title/x", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	fields, err := ReadFormFields(req, 1024)
	require.NoError(t, err)
	assert.Equal(t, "my title", fields["title"])
	assert.Equal(t, "first", fields["caption"])
}

func TestReadFormFields_BrokenMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/set-post-title/x", strings.NewReader("garbage"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=nope")

	_, err := ReadFormFields(req, 1024)
	require.ErrorIs(t, err, ErrMalformedRequest)
}

func writeFilePart(t *testing.T, mw *multipart.Writer, name, filename, value string) {
	t.Helper()
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, name, filename))
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(value))
	require.NoError(t, err)
}

func TestReadFormFields_MultipartFileParts(t *testing.T) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	writeFilePart(t, mw, "user", "user", "piet")
	writeFilePart(t, mw, "password1", "password1", "pietSecret123")
	require.NoError(t, mw.WriteField("title", "plain value"))
	writeFilePart(t, mw, "title", "title", "from file part")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/create-user", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	fields, err := ReadFormFields(req, 1024)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"user":      "piet",
		"password1": "pietSecret123",
		// plain values win over file parts
		"title": "plain value",
	}, fields)
}

func TestMultipartFieldValue(t *testing.T) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	writeFilePart(t, mw, "postId", "postId", "49f7hfetUHs")
	writeFilePart(t, mw, "file", "image.png", strings.Repeat("x", MaxFormBodySize+1))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1024))
	t.Cleanup(func() {
		assert.NoError(t, req.MultipartForm.RemoveAll())
	})

	value, ok, err := MultipartFieldValue(req.MultipartForm, "postId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "49f7hfetUHs", value)

	_, ok, err = MultipartFieldValue(req.MultipartForm, "file")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = MultipartFieldValue(req.MultipartForm, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = MultipartFieldValue(nil, "postId")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadFormFields_URLEncodedTooLarge(t *testing.T) {
	body := "title=" + strings.Repeat("a", MaxFormBodySize)
	req := httptest.NewRequest(http.MethodPost, "/set-post-title/x", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := ReadFormFields(req, 1024)
	require.ErrorIs(t, err, ErrMalformedRequest)
}
