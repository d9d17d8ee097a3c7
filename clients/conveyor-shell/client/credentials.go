package client

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tent/hawk-go"

	cvclient "github.com/conveyor-ci/conveyor/clients/client-go"
	got "github.com/taskcluster/go-got"
)

// Credentials for the dispatch master and methods to sign requests.
type Credentials struct {
	ClientID    string `json:"clientId"`
	AccessToken string `json:"accessToken"`
}

// PayloadHash creates payload hash calculator for given content-type
func PayloadHash(contentType string) hash.Hash {
	a := hawk.Auth{
		Credentials: hawk.Credentials{
			Hash: sha256.New,
		},
	}
	return a.PayloadHash(contentType)
}

func nonce() string {
	b := make([]byte, 8)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)[:8]
}

func (c *Credentials) newAuth(method, url string, h hash.Hash) (*hawk.Auth, error) {
	// Create a hawk auth
	a, err := hawk.NewURLAuth(url, &hawk.Credentials{
		ID:   c.ClientID,
		Key:  c.AccessToken,
		Hash: sha256.New,
	}, 0)
	if err != nil {
		return nil, err
	}
	a.Method = method

	// Set payload hash
	if h != nil {
		a.SetHash(h)
	}

	return a, nil
}

// SignHeader generates a request signature for Authorization
func (c *Credentials) SignHeader(method, url string, h hash.Hash) (string, error) {
	a, err := c.newAuth(strings.ToUpper(method), url, h)
	if err != nil {
		return "", err
	}
	a.Nonce = nonce()
	return a.RequestHeader(), nil
}

// SignURL will generate a (bewit) signed URL
func (c *Credentials) SignURL(URL string) (string, error) {
	a, err := c.newAuth("GET", URL, nil)
	if err != nil {
		return "", err
	}
	URL += "?bewit=" + url.QueryEscape(a.Bewit())
	return URL, nil
}

// SignRequest will add an Authorization header
func (c *Credentials) SignRequest(req *http.Request, hash hash.Hash) error {
	s, err := c.SignHeader(req.Method, req.URL.String(), hash)
	req.Header.Set("Authorization", s)
	return err
}

// SignGotRequest will add an Authorization header
func (c *Credentials) SignGotRequest(req *got.Request, hash hash.Hash) error {
	s, err := c.SignHeader(req.Method, req.URL, hash)
	req.Header.Set("Authorization", s)
	return err
}

// ToDispatchCredentials generates a credentials object that cvclient expects.
func (c *Credentials) ToDispatchCredentials() *cvclient.Credentials {
	return &cvclient.Credentials{
		ClientID:    c.ClientID,
		AccessToken: c.AccessToken,
	}
}
