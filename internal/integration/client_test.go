//go:build integration_test || all_tests

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t          *testing.T
	httpClient *http.Client
}

type apiResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *apiResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), string(r.Body))
}

func (c *apiClient) do(method, path, contentType string, body io.Reader) *apiResponse {
	c.t.Helper()
	req, err := http.NewRequest(method, serverEndpoint+path, body)
	require.NoError(c.t, err)
	req.Header.Set("User-Agent", "trifecta-integration-test")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	return &apiResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBytes,
	}
}

func (c *apiClient) get(path string) *apiResponse {
	c.t.Helper()
	return c.do(http.MethodGet, path, "", nil)
}

func (c *apiClient) postForm(path string, fields map[string]string) *apiResponse {
	c.t.Helper()
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return c.do(http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
}

func (c *apiClient) postMultipart(path string, fields map[string]string) *apiResponse {
	c.t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(c.t, mw.WriteField(k, v))
	}
	require.NoError(c.t, mw.Close())
	return c.do(http.MethodPost, path, mw.FormDataContentType(), body)
}

func (c *apiClient) login(username, password string) *apiResponse {
	c.t.Helper()
	return c.postForm("/login", map[string]string{"user": username, "password": password})
}

func (c *apiClient) mustLogin(username, password string) {
	c.t.Helper()
	resp := c.login(username, password)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	require.JSONEq(c.t, `{"ok":1}`, string(resp.Body))
}

type statusResponse struct {
	Login bool   `json:"login"`
	User  string `json:"user"`
	Admin bool   `json:"admin"`
}

func (c *apiClient) status() statusResponse {
	c.t.Helper()
	resp := c.get("/status")
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	var status statusResponse
	resp.decode(c.t, &status)
	return status
}

type uploadResponse struct {
	ID     string `json:"id"`
	PostID string `json:"postId"`
}

func (c *apiClient) upload(postID string, data []byte) *apiResponse {
	c.t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "photo")
	require.NoError(c.t, err)
	_, err = fw.Write(data)
	require.NoError(c.t, err)
	if postID != "" {
		require.NoError(c.t, mw.WriteField("postId", postID))
	}
	require.NoError(c.t, mw.Close())
	return c.do(http.MethodPost, "/upload", mw.FormDataContentType(), body)
}

func (c *apiClient) mustUpload(postID string, data []byte) uploadResponse {
	c.t.Helper()
	resp := c.upload(postID, data)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(resp.Body))
	var uploaded uploadResponse
	resp.decode(c.t, &uploaded)
	return uploaded
}

type postResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Public bool   `json:"public"`
	Images []struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"images"`
}

func (c *apiClient) getPost(postID string) (int, postResponse) {
	c.t.Helper()
	resp := c.get("/getPost/" + postID)
	var post postResponse
	if resp.StatusCode == http.StatusOK {
		resp.decode(c.t, &post)
	}
	return resp.StatusCode, post
}
