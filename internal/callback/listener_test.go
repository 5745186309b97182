package callback

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNonce = "3f1c2a9e-7d0b-4c55-9a61-2b8f0e4d7c10"

func testSession() domain.AuthorizationSession {
	return domain.AuthorizationSession{
		StateNonce:   testNonce,
		RedirectURI:  "https://localhost:0",
		Port:         0,
		CallbackPath: "/",
	}
}

// clientFor trusts exactly the certificate served by run.
func clientFor(run *Run) *http.Client {
	pool := x509.NewCertPool()
	pool.AddCert(run.Certificate())
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{RootCAs: pool, ServerName: "localhost"},
			DisableKeepAlives: true,
		},
	}
}

func get(t *testing.T, client *http.Client, run *Run, path string, query url.Values) (int, string) {
	t.Helper()
	u := url.URL{Scheme: "https", Host: run.Addr().String(), Path: path, RawQuery: query.Encode()}
	resp, err := client.Get(u.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func requirePortFree(t *testing.T, addr net.Addr) {
	t.Helper()
	ln, err := net.Listen("tcp", addr.String())
	require.NoError(t, err, "port should be released")
	require.NoError(t, ln.Close())
}

func TestGenerateCertificate(t *testing.T) {
	now := time.Now()
	cert, err := GenerateCertificate(now, "localhost", "127.0.0.1")
	require.NoError(t, err)

	leaf := cert.Leaf
	require.NotNil(t, leaf)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.True(t, leaf.NotBefore.Before(now))
	assert.True(t, leaf.NotAfter.After(now.Add(time.Hour)))

	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, elliptic.P256(), key.Curve)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: pool})
	assert.NoError(t, err)
}

func TestGenerateCertificate_FreshPerCall(t *testing.T) {
	a, err := GenerateCertificate(time.Now(), "localhost")
	require.NoError(t, err)
	b, err := GenerateCertificate(time.Now(), "localhost")
	require.NoError(t, err)

	assert.NotEqual(t, a.Leaf.SerialNumber, b.Leaf.SerialNumber)
	assert.NotEqual(t, a.Certificate[0], b.Certificate[0])
}

func TestListener_CodeFlow(t *testing.T) {
	run, err := NewListener(time.Minute).Listen(context.Background(), testSession())
	require.NoError(t, err)
	client := clientFor(run)

	status, body := get(t, client, run, "/", url.Values{"code": {"auth-code-1"}, "state": {testNonce}, "scope": {"user:read:follows"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "You may close this tab")

	artifact, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "auth-code-1", artifact.Code)
	assert.False(t, artifact.IsImplicit())

	requirePortFree(t, run.Addr())
}

func TestListener_ImplicitFlowRelay(t *testing.T) {
	run, err := NewListener(time.Minute).Listen(context.Background(), testSession())
	require.NoError(t, err)
	client := clientFor(run)

	status, body := get(t, client, run, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "window.location.hash")

	status, _ = get(t, client, run, "/", url.Values{
		"access_token": {"implicit-token"},
		"scope":        {"user:read:follows"},
		"state":        {testNonce},
		"token_type":   {"bearer"},
	})
	assert.Equal(t, http.StatusOK, status)

	artifact, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, artifact.IsImplicit())
	assert.Equal(t, "implicit-token", artifact.AccessToken)
	assert.Equal(t, "user:read:follows", artifact.Scope)
}

func TestListener_StateMismatchKeepsListening(t *testing.T) {
	run, err := NewListener(time.Minute).Listen(context.Background(), testSession())
	require.NoError(t, err)
	client := clientFor(run)

	status, body := get(t, client, run, "/", url.Values{"code": {"forged"}, "state": {"attacker-state"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "does not belong")

	status, _ = get(t, client, run, "/", url.Values{"code": {"forged"}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, client, run, "/", url.Values{"code": {"real-code"}, "state": {testNonce}})
	assert.Equal(t, http.StatusOK, status)

	artifact, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "real-code", artifact.Code)
}

func TestListener_IgnoresOtherPathsAndMalformed(t *testing.T) {
	session := testSession()
	session.CallbackPath = "/callback"
	run, err := NewListener(time.Minute).Listen(context.Background(), session)
	require.NoError(t, err)
	client := clientFor(run)

	status, _ := get(t, client, run, "/favicon.ico", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, client, run, "/callback", url.Values{"state": {testNonce}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, client, run, "/callback", url.Values{"code": {"c"}, "state": {testNonce}})
	assert.Equal(t, http.StatusOK, status)

	artifact, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", artifact.Code)
}

func TestListener_ProviderError(t *testing.T) {
	run, err := NewListener(time.Minute).Listen(context.Background(), testSession())
	require.NoError(t, err)

	status, body := get(t, clientFor(run), run, "/", url.Values{
		"error":             {"access_denied"},
		"error_description": {"The user denied you access"},
		"state":             {testNonce},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "did not grant access")

	_, err = run.Wait(context.Background())
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "access_denied", provErr.Code)

	requirePortFree(t, run.Addr())
}

func TestListener_PortUnavailable(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	session := testSession()
	session.Port = occupied.Addr().(*net.TCPAddr).Port

	_, err = NewListener(time.Minute).Start(context.Background(), session)
	assert.ErrorIs(t, err, domain.ErrPortUnavailable)
}

func TestListener_TimeoutReleasesPort(t *testing.T) {
	run, err := NewListener(50 * time.Millisecond).Listen(context.Background(), testSession())
	require.NoError(t, err)

	_, err = run.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrTimedOut)

	requirePortFree(t, run.Addr())
}

func TestListener_CancelReleasesPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	run, err := NewListener(time.Minute).Listen(ctx, testSession())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = run.Wait(ctx)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	requirePortFree(t, run.Addr())
}

func TestListener_RedirectAfterCompletionIsRefused(t *testing.T) {
	run, err := NewListener(time.Minute).Listen(context.Background(), testSession())
	require.NoError(t, err)
	client := clientFor(run)

	status, _ := get(t, client, run, "/", url.Values{"code": {"first"}, "state": {testNonce}})
	require.Equal(t, http.StatusOK, status)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	u := url.URL{Scheme: "https", Host: run.Addr().String(), Path: "/", RawQuery: url.Values{"code": {"second"}, "state": {testNonce}}.Encode()}
	_, err = client.Get(u.String())
	assert.Error(t, err)
}

func TestRun_CloseAbandons(t *testing.T) {
	run, err := NewListener(time.Minute).Listen(context.Background(), testSession())
	require.NoError(t, err)

	run.Close()
	requirePortFree(t, run.Addr())

	_, err = run.Wait(context.Background())
	assert.True(t, errors.Is(err, domain.ErrCancelled))
}
