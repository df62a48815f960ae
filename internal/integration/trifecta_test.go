//go:build integration_test || all_tests

package integration

import (
	"net/http"
	"sync"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/trifecta/pkg"
)

var (
	testPNG = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 512)...)
	testGIF = append([]byte("GIF89a"), make([]byte, 512)...)
)

// createUser creates a user with the admin client and returns its credentials.
func (s *IntegrationTestSuite) createUser(admin *apiClient) (string, string) {
	t := s.T()
	username := gofakeit.Username() + gofakeit.DigitN(6)
	password := gofakeit.Password(true, true, true, false, false, 14)

	resp := admin.postMultipart("/create-user", map[string]string{"user": username, "password1": password})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
	return username, password
}

func (s *IntegrationTestSuite) TestLoginStatusLogout() {
	t := s.T()
	client := s.newClient()

	assert.False(t, client.status().Login)

	resp := client.login(testAdminUsername, testAdminPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":1}`, string(resp.Body))
	assert.Regexp(t, `^session=[A-Za-z0-9_-]{11}; SameSite=Strict; Path=/; Max-Age=3600$`, resp.Header.Get("Set-Cookie"))

	status := client.status()
	assert.True(t, status.Login)
	assert.True(t, status.Admin)
	assert.Equal(t, testAdminUsername, status.User)

	resp = client.do(http.MethodPost, "/logout", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "session=; SameSite=Strict; Path=/; Max-Age=0", resp.Header.Get("Set-Cookie"))
	assert.False(t, client.status().Login)
}

func (s *IntegrationTestSuite) TestLoginFailed() {
	t := s.T()
	client := s.newClient()

	for _, creds := range [][2]string{
		{testAdminUsername, "wrong"},
		{"nobody-" + gofakeit.DigitN(6), testAdminPassword},
	} {
		resp := client.login(creds[0], creds[1])
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"ok":0,"message":"invalid credentials"}`, string(resp.Body))
		assert.Empty(t, resp.Header.Get("Set-Cookie"))
	}
	assert.False(t, client.status().Login)
}

func (s *IntegrationTestSuite) TestLoginRateLimit() {
	t := s.T()
	client := s.newClient()

	for i := 0; i < testLoginLimitPerMin; i++ {
		resp := client.login(testAdminUsername, "wrong")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := client.login(testAdminUsername, testAdminPassword)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Set-Cookie"))
}

func (s *IntegrationTestSuite) TestUploadFlow() {
	t := s.T()
	admin := s.newClient()
	admin.mustLogin(testAdminUsername, testAdminPassword)

	first := admin.mustUpload("", testPNG)
	require.Len(t, first.PostID, pkg.ShortIDLen)
	second := admin.mustUpload(first.PostID, testGIF)
	assert.Equal(t, first.PostID, second.PostID)

	resp := admin.postMultipart("/set-post-title/"+first.PostID, map[string]string{"title": "integration"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = admin.postMultipart("/set-image-caption/"+first.ID, map[string]string{"caption": "one"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = admin.postMultipart("/set-image-caption/"+second.ID, map[string]string{"caption": "two"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, post := admin.getPost(first.PostID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "integration", post.Title)
	require.Len(t, post.Images, 2)
	assert.Equal(t, first.ID, post.Images[0].ID)
	assert.Equal(t, "one", post.Images[0].Caption)
	assert.Equal(t, second.ID, post.Images[1].ID)
	assert.Equal(t, "two", post.Images[1].Caption)

	resp = admin.get("/i/" + second.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, testGIF, resp.Body)

	postID, err := pkg.ParseShortID(first.PostID)
	require.NoError(t, err)
	var imagesCount int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM image WHERE post_id = $1`, int64(postID)).Scan(&imagesCount))
	assert.Equal(t, 2, imagesCount)

	resp = admin.do(http.MethodPost, "/delete-post/"+first.PostID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM image WHERE post_id = $1`, int64(postID)).Scan(&imagesCount))
	assert.Zero(t, imagesCount)
	code, _ = admin.getPost(first.PostID)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, admin.get("/i/"+second.ID).StatusCode)
}

func (s *IntegrationTestSuite) TestUploadTooLarge() {
	t := s.T()
	admin := s.newClient()
	admin.mustLogin(testAdminUsername, testAdminPassword)

	resp := admin.upload("", make([]byte, testMaxUploadSize+1))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestVisibility() {
	t := s.T()
	admin := s.newClient()
	admin.mustLogin(testAdminUsername, testAdminPassword)

	owner := s.newClient()
	owner.mustLogin(s.createUser(admin))
	other := s.newClient()
	other.mustLogin(s.createUser(admin))
	anonymous := s.newClient()

	uploaded := owner.mustUpload("", testPNG)
	imagePath := "/i/" + uploaded.ID

	assert.Equal(t, http.StatusOK, anonymous.get(imagePath).StatusCode)

	resp := owner.do(http.MethodPost, "/set-post-public/"+uploaded.PostID+"/0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, anonymous.get(imagePath).StatusCode)
	assert.Equal(t, http.StatusNotFound, other.get(imagePath).StatusCode)
	assert.Equal(t, http.StatusOK, owner.get(imagePath).StatusCode)
	assert.Equal(t, http.StatusOK, admin.get(imagePath).StatusCode)
	code, _ := anonymous.getPost(uploaded.PostID)
	assert.Equal(t, http.StatusNotFound, code)

	// other users can not append to the post
	assert.Equal(t, http.StatusNotFound, other.upload(uploaded.PostID, testPNG).StatusCode)

	resp = owner.do(http.MethodPost, "/set-post-public/"+uploaded.PostID+"/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusOK, anonymous.get(imagePath).StatusCode)
	assert.Equal(t, http.StatusForbidden, other.upload(uploaded.PostID, testPNG).StatusCode)
}

func (s *IntegrationTestSuite) TestConcurrentUploads() {
	t := s.T()
	owner := s.newClient()
	owner.mustLogin(testAdminUsername, testAdminPassword)

	first := owner.mustUpload("", testPNG)

	const uploads = 10
	var wg sync.WaitGroup
	codes := make(chan int, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- owner.upload(first.PostID, testGIF).StatusCode
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	code, post := owner.getPost(first.PostID)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, post.Images, uploads+1)
	assert.Equal(t, first.ID, post.Images[0].ID)
}

func (s *IntegrationTestSuite) TestSessions() {
	t := s.T()
	admin := s.newClient()
	admin.mustLogin(testAdminUsername, testAdminPassword)
	username, password := s.createUser(admin)

	laptop := s.newClient()
	laptop.mustLogin(username, password)
	phone := s.newClient()
	phone.mustLogin(username, password)

	resp := laptop.get("/my-sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []struct {
		ID      string `json:"id"`
		Current bool   `json:"current"`
	}
	resp.decode(t, &sessions)
	require.Len(t, sessions, 2)

	var phoneSessionID string
	for _, session := range sessions {
		if !session.Current {
			phoneSessionID = session.ID
		}
	}
	require.NotEmpty(t, phoneSessionID)

	resp = laptop.do(http.MethodPost, "/kill-session/"+phoneSessionID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, phone.status().Login)
	assert.True(t, laptop.status().Login)

	resp = laptop.postMultipart("/change-my-password", map[string]string{"password0": password, "password1": password + "2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusOK, laptop.login(username, password+"2").StatusCode)
	assert.JSONEq(t, `{"ok":0,"message":"invalid credentials"}`, string(phone.login(username, password).Body))
}
