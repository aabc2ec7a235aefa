package rtspsrv

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigestAuthenticatorChallengesWithoutHeader(t *testing.T) {
	auth, err := NewDigestAuthenticator(Credential{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	err = auth.Authenticate("DESCRIBE", "rtsp://host/stream", "")
	require.ErrorIs(t, err, ErrNoAuthorizationHeader)
	require.Contains(t, auth.Challenge(), "Digest realm=")
	require.Contains(t, auth.Challenge(), "algorithm=MD5")
}

func TestDigestAuthenticatorAcceptsCorrectResponse(t *testing.T) {
	auth, err := NewDigestAuthenticator(Credential{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	challenge := strings.TrimPrefix(auth.Challenge(), "Digest ")
	params := parseDigestParams(challenge)

	method := "DESCRIBE"
	uri := "rtsp://host/stream"
	ha1 := md5Hex("alice:" + params["realm"] + ":secret")
	ha2 := md5Hex(method + ":" + uri)
	response := md5Hex(ha1 + ":" + params["nonce"] + ":" + ha2)

	header := fmt.Sprintf(`Digest username="alice", realm="%s", nonce="%s", uri="%s", response="%s"`,
		params["realm"], params["nonce"], uri, response)

	require.NoError(t, auth.Authenticate(method, uri, header))
}

func TestDigestAuthenticatorRejectsWrongPassword(t *testing.T) {
	auth, err := NewDigestAuthenticator(Credential{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	params := parseDigestParams(strings.TrimPrefix(auth.Challenge(), "Digest "))
	uri := "rtsp://host/stream"
	ha1 := md5Hex("alice:" + params["realm"] + ":not-the-password")
	ha2 := md5Hex("DESCRIBE:" + uri)
	response := md5Hex(ha1 + ":" + params["nonce"] + ":" + ha2)

	header := fmt.Sprintf(`Digest username="alice", realm="%s", nonce="%s", uri="%s", response="%s"`,
		params["realm"], params["nonce"], uri, response)
	err = auth.Authenticate("DESCRIBE", uri, header)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}
