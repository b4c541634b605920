// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package githubclient is the GitHub adapter: it queries merged pull requests,
// fetches PR commits, inspects merge commits for strategy detection, and verifies webhook
// signatures.
package githubclient

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v65/github"
	"github.com/microsoft/gitsvnsync/gitcmd"
	"github.com/microsoft/gitsvnsync/stringutil"
	"golang.org/x/oauth2"
)

const githubPrefix = "https://github.com/"

// HTTPRequestAuther adds some kind of HTTP authentication to a request.
type HTTPRequestAuther interface {
	InsertHTTPAuth(req *http.Request) error
}

// GitHubAPIAuther authenticates HTTP requests and GitHub URLs using the types of auth that are
// used to auth to the GitHub API.
type GitHubAPIAuther interface {
	GetIdentity() (string, error)

	HTTPRequestAuther
	gitcmd.URLAuther
}

// PATAuther adds a username and password into the https-style GitHub URL and the HTTP
// Authorization header.
type PATAuther struct {
	User string
	PAT  string
}

func (a PATAuther) InsertHTTPAuth(req *http.Request) error {
	if a.PAT == "" {
		return nil
	}
	user := a.User
	if user == "" {
		user = "_"
	}
	req.SetBasicAuth(user, a.PAT)
	return nil
}

func (a PATAuther) InsertAuth(url string) string {
	if a.PAT == "" {
		return url
	}
	user := a.User
	if user == "" {
		user = "_"
	}
	if after, found := stringutil.CutPrefix(url, githubPrefix); found {
		return fmt.Sprintf("https://%v:%v@github.com/%v", user, a.PAT, after)
	}
	return url
}

func (a PATAuther) GetIdentity() (string, error) {
	ctx := context.Background()
	client, err := NewClient(ctx, a.PAT)
	if err != nil {
		return "", err
	}
	response, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return "", err
	}
	return response.GetLogin(), nil
}

// AppAuther authenticates as a GitHub App installation instead of a PAT.
type AppAuther struct {
	AppID          int64
	InstallationID int64
	PrivateKey     string // PEM format, base64-encoded.
}

func (a AppAuther) InsertAuth(url string) string {
	token, _, err := a.token()
	if err != nil {
		return url
	}
	if after, found := stringutil.CutPrefix(url, githubPrefix); found {
		return fmt.Sprintf("https://x-access-token:%v@github.com/%v", token, after)
	}
	return url
}

func (a AppAuther) InsertHTTPAuth(req *http.Request) error {
	token, _, err := a.token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+token)
	return nil
}

func (a AppAuther) GetIdentity() (string, error) {
	ctx := context.Background()
	client, err := NewInstallationClient(ctx, a.AppID, a.InstallationID, a.PrivateKey)
	if err != nil {
		return "", err
	}
	response, _, err := client.Apps.Get(ctx, "")
	if err != nil {
		return "", err
	}
	return response.GetName(), nil
}

func (a AppAuther) token() (string, time.Time, error) {
	return GenerateInstallationToken(context.Background(), a.AppID, a.InstallationID, a.PrivateKey)
}

// GenerateInstallationToken exchanges a GitHub App's private key for a short-lived installation
// access token.
func GenerateInstallationToken(ctx context.Context, appID, installationID int64, privateKey string) (string, time.Time, error) {
	signed, err := generateJWT(appID, privateKey)
	if err != nil {
		return "", time.Time{}, err
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: signed})
	tokenClient := oauth2.NewClient(ctx, tokenSource)

	client := github.NewClient(tokenClient)
	installationToken, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", time.Time{}, err
	}

	return installationToken.GetToken(), installationToken.GetExpiresAt().Time, nil
}

func generateJWT(appID int64, privateKey string) (string, error) {
	privkey, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to base64-decode private key: %w", err)
	}
	block, _ := pem.Decode(privkey)
	if block == nil {
		return "", errors.New("failed to decode private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse RSA private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signedToken, nil
}

// NewClient creates a GitHub client authenticated with a personal access token.
func NewClient(ctx context.Context, pat string) (*github.Client, error) {
	if pat == "" {
		return nil, errors.New("no GitHub PAT specified")
	}
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: pat})
	tokenClient := oauth2.NewClient(ctx, tokenSource)
	return github.NewClient(tokenClient), nil
}

// NewInstallationClient creates a GitHub client authenticated as a GitHub App installation.
func NewInstallationClient(ctx context.Context, appID, installationID int64, privateKey string) (*github.Client, error) {
	if appID == 0 {
		return nil, errors.New("no GitHub App ID specified")
	}
	if installationID == 0 {
		return nil, errors.New("no GitHub App Installation ID specified")
	}
	if privateKey == "" {
		return nil, errors.New("no GitHub App private key specified")
	}
	token, _, err := GenerateInstallationToken(ctx, appID, installationID, privateKey)
	if err != nil {
		return nil, err
	}
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tokenClient := oauth2.NewClient(ctx, tokenSource)
	return github.NewClient(tokenClient), nil
}

// GitHubSSHAuther turns an https-style GitHub URL into an SSH-style GitHub URL.
type GitHubSSHAuther struct{}

func (GitHubSSHAuther) InsertAuth(url string) string {
	if after, found := stringutil.CutPrefix(url, githubPrefix); found {
		return fmt.Sprintf("git@github.com:%v", after)
	}
	return url
}
