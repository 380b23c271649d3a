package gitutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var prURLRegex = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/pull/(\d+)$`)

// ParsePullRequestURL parses a GitHub Pull Request URL and extracts the owner, repo, and PR number.
// Supported format: https://github.com/{owner}/{repo}/pull/{number}
func ParsePullRequestURL(url string) (owner, repo string, prNumber int, err error) {
	// Normalize URL
	url = strings.TrimSuffix(url, "/")

	matches := prURLRegex.FindStringSubmatch(url)
	if len(matches) != 4 {
		return "", "", 0, fmt.Errorf("invalid pull request URL format: %s", url)
	}

	owner = matches[1]
	repo = matches[2]
	prNumberStr := matches[3]

	prNumber, err = strconv.Atoi(prNumberStr)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number '%s': %w", prNumberStr, err)
	}

	return owner, repo, prNumber, nil
}

var remoteURLRegex = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/]+?)(?:\.git)?$`)

// ParseRepository extracts owner and repo from a GitHub remote or web URL.
// Both https://github.com/o/r(.git) and git@github.com:o/r(.git) are accepted.
func ParseRepository(remote string) (owner, repo string, err error) {
	remote = strings.TrimSuffix(strings.TrimSpace(remote), "/")
	matches := remoteURLRegex.FindStringSubmatch(remote)
	if len(matches) != 3 {
		return "", "", fmt.Errorf("not a GitHub repository URL: %s", remote)
	}
	return matches[1], matches[2], nil
}

// RepoBaseURL strips the /pull/N suffix from a pull request web URL.
func RepoBaseURL(prURL string) string {
	if i := strings.Index(prURL, "/pull/"); i >= 0 {
		return prURL[:i]
	}
	return strings.TrimSuffix(prURL, "/")
}
