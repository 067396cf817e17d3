// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// signRequest attaches the HMAC authorization header. The signature
// covers the method, the request path, the timestamp, and a SHA-256
// digest of the body, keyed by the credential's access token:
//
//	Authorization: Taskfleet-HMAC client-id=<id>, ts=<unix>, signature=<hex>
//
// Temporary (claim-scoped) credentials carry a certificate issued by
// the queue; it rides along in its own header so the service can
// validate the delegation chain.
func signRequest(request *http.Request, credentials *Credentials, body []byte, now time.Time) {
	if credentials == nil {
		return
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)
	bodyDigest := sha256.Sum256(body)

	mac := hmac.New(sha256.New, []byte(credentials.AccessToken))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", request.Method, request.URL.Path, timestamp, hex.EncodeToString(bodyDigest[:]))

	request.Header.Set("Authorization", fmt.Sprintf(
		"Taskfleet-HMAC client-id=%s, ts=%s, signature=%s",
		credentials.ClientID, timestamp, hex.EncodeToString(mac.Sum(nil)),
	))
	if credentials.Certificate != "" {
		request.Header.Set("X-Taskfleet-Certificate", credentials.Certificate)
	}
}
