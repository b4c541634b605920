// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package githubclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v65/github"
)

// Errors the GitHub adapter may return that the caller is expected to handle.
var (
	ErrRepositoryNotExists = errors.New("repository does not exist")
	ErrWebhookSignature    = errors.New("webhook signature verification failed")
)

const (
	retryAttempts           = 5
	maxRateLimitResetWait   = 15 * time.Minute
	rateLimitResetWaitSlack = 5 * time.Second
)

// Retry runs f up to retryAttempts times, printing the error if one is encountered. Handles
// GitHub rate limit exceeded errors by waiting, if the reset will happen reasonably soon.
func Retry(f func() error) error {
	i := 0
	for ; i < retryAttempts; i++ {
		log.Printf("   attempt %v/%v...\n", i+1, retryAttempts)
		err := f()
		if err != nil {
			log.Printf("...attempt %v/%v failed with error: %v\n", i+1, retryAttempts, err)
			if i+1 < retryAttempts {
				var rateErr *github.RateLimitError
				if errors.As(err, &rateErr) {
					resetDuration := time.Until(rateErr.Rate.Reset.Time)
					log.Printf("...rate limit exceeded. Reset at %v, %v from now.\n", rateErr.Rate.Reset, resetDuration)
					if resetDuration > maxRateLimitResetWait {
						log.Printf("...rate limit reset is too far away to reasonably wait. Aborting.")
						return err
					}
					wait := resetDuration + rateLimitResetWaitSlack
					log.Printf("...waiting %v before next retry.\n", wait)
					time.Sleep(wait)
				}
				continue
			}
			log.Printf("...no retries remaining.\n")
			return err
		}
		break
	}
	log.Printf("...attempt %v/%v successful.\n", i+1, retryAttempts)
	return nil
}

// FetchEachPage helps fetch all data from a GitHub API call that may or may not span multiple
// pages.
func FetchEachPage(f func(options github.ListOptions) (*github.Response, error)) error {
	var options github.ListOptions
	for {
		log.Printf("Fetching page %v...\n", options.Page)
		resp, err := f(options)
		if err != nil {
			return err
		}
		if resp.NextPage == 0 {
			return nil
		}
		options.Page = resp.NextPage
	}
}

// PrSummary is one merged pull request returned by ListMergedPRs.
type PrSummary struct {
	Number       int
	Title        string
	SourceBranch string
	MergeSHA     string
	MergedAt     time.Time
}

// ListMergedPRs returns every PR merged into defaultBranch strictly after since, ordered oldest
// first. The REST "list pulls" endpoint can't filter by merge state across a long history
// efficiently, so this uses the GraphQL search API instead.
func ListMergedPRs(auther HTTPRequestAuther, owner, repo, defaultBranch string, since time.Time) ([]PrSummary, error) {
	const query = `query($searchQuery: String!, $cursor: String) {
		search(query: $searchQuery, type: ISSUE, first: 50, after: $cursor) {
			nodes {
				... on PullRequest {
					number
					title
					headRefName
					mergeCommit { oid }
					mergedAt
				}
			}
			pageInfo {
				hasNextPage
				endCursor
			}
		}
	}`

	searchQuery := fmt.Sprintf("repo:%s/%s is:pr is:merged base:%s merged:>%s",
		owner, repo, defaultBranch, since.UTC().Format(time.RFC3339))

	type prNode struct {
		Number      int
		Title       string
		HeadRefName string
		MergeCommit struct {
			OID string
		}
		MergedAt time.Time
	}

	var all []PrSummary
	var cursor *string
	for {
		result := &struct {
			Data struct {
				Search struct {
					Nodes    []prNode
					PageInfo struct {
						HasNextPage bool
						EndCursor   string
					}
				}
			}
		}{}
		variables := map[string]any{
			"searchQuery": searchQuery,
			"cursor":      cursor,
		}
		if err := QueryGraphQL(auther, query, variables, result); err != nil {
			return nil, err
		}
		for _, n := range result.Data.Search.Nodes {
			all = append(all, PrSummary{
				Number:       n.Number,
				Title:        n.Title,
				SourceBranch: n.HeadRefName,
				MergeSHA:     n.MergeCommit.OID,
				MergedAt:     n.MergedAt,
			})
		}
		if !result.Data.Search.PageInfo.HasNextPage {
			break
		}
		endCursor := result.Data.Search.PageInfo.EndCursor
		cursor = &endCursor
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].MergedAt.Before(all[j].MergedAt) })
	return all, nil
}

// CommitSummary is one commit returned by GetPRCommits.
type CommitSummary struct {
	SHA     string
	Message string
	Author  string
}

// GetPRCommits returns the commits that make up a pull request, in the order the forge returns
// them.
func GetPRCommits(client *github.Client, owner, repo string, number int) ([]CommitSummary, error) {
	var all []CommitSummary
	err := FetchEachPage(func(options github.ListOptions) (*github.Response, error) {
		var commits []*github.RepositoryCommit
		var resp *github.Response
		err := Retry(func() error {
			var innerErr error
			commits, resp, innerErr = client.PullRequests.ListCommits(context.Background(), owner, repo, number, &github.ListOptions{
				Page:    options.Page,
				PerPage: 100,
			})
			return innerErr
		})
		if err != nil {
			return resp, err
		}
		for _, c := range commits {
			all = append(all, CommitSummary{
				SHA:     c.GetSHA(),
				Message: c.GetCommit().GetMessage(),
				Author:  c.GetCommit().GetAuthor().GetName(),
			})
		}
		return resp, nil
	})
	return all, err
}

// GetCommit inspects a single commit by SHA, primarily to look at its parent count for strategy
// detection.
func GetCommit(client *github.Client, owner, repo, sha string) (*github.RepositoryCommit, error) {
	var commit *github.RepositoryCommit
	err := Retry(func() error {
		var err error
		commit, _, err = client.Repositories.GetCommit(context.Background(), owner, repo, sha, nil)
		return err
	})
	if err != nil {
		var errResponse *github.ErrorResponse
		if errors.As(err, &errResponse) && errResponse.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: commit %v in %v/%v", ErrRepositoryNotExists, sha, owner, repo)
		}
		return nil, err
	}
	return commit, nil
}

var httpClient = http.Client{Timeout: 30 * time.Second}

// QueryGraphQL runs a GraphQL query or mutation against the GitHub API.
func QueryGraphQL(auther HTTPRequestAuther, query string, variables map[string]any, result any) error {
	queryBytes, err := json.Marshal(&struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}{query, variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", "https://api.github.com/graphql", bytes.NewReader(queryBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := auther.InsertHTTPAuth(req); err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var graphQLResponse struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&graphQLResponse); err != nil {
		return fmt.Errorf("failed to decode GraphQL response (status %v): %w", resp.StatusCode, err)
	}
	if len(graphQLResponse.Errors) > 0 {
		var messages []string
		for _, e := range graphQLResponse.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("GraphQL errors: %s", strings.Join(messages, "; "))
	}
	if result != nil && len(graphQLResponse.Data) > 0 {
		if err := json.Unmarshal(graphQLResponse.Data, result); err != nil {
			return err
		}
	}
	return nil
}

// VerifyWebhookSignature checks an "X-Hub-Signature-256" header value against body using
// HMAC-SHA256 and a constant-time comparison. Returns ErrWebhookSignature on mismatch; no side
// effects occur before this check succeeds.
func VerifyWebhookSignature(secret []byte, body []byte, signatureHeader string) error {
	const prefix = "sha256="
	sig, found := strings.CutPrefix(signatureHeader, prefix)
	if !found {
		return fmt.Errorf("%w: missing %q prefix", ErrWebhookSignature, prefix)
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed hex signature", ErrWebhookSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrWebhookSignature
	}
	return nil
}
