package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serviceURL(env, def string) string {
	if url := os.Getenv(env); url != "" {
		return url
	}
	return def
}

func authURL() string   { return serviceURL("AUTH_URL", "http://localhost:8081") }
func portalURL() string { return serviceURL("PORTAL_URL", "http://localhost:8080") }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// doJSON sends body as JSON and decodes a JSON response into out when out is
// not nil. It returns the status code.
func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", randomIP())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func login(t *testing.T, email, password string) loginResponse {
	t.Helper()
	var out loginResponse
	status := doJSON(t, http.MethodPost, authURL()+"/auth/login", "", loginRequest{Email: email, Password: password}, &out)
	require.Equal(t, http.StatusOK, status, "login %s", email)
	require.NotEmpty(t, out.AccessToken)
	return out
}

func randomIP() string {
	return fmt.Sprintf("10.0.%d.%d", rand.Intn(255), rand.Intn(255))
}

func waitForServices(t *testing.T) {
	t.Helper()

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if ready(authURL()+"/readyz") && ready(portalURL()+"/readyz") {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("services not ready within timeout")
}

func ready(url string) bool {
	resp, err := httpClient.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
