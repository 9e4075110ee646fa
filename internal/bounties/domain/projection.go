package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/tracker"
)

// StatusFilter selects issues by raw on-chain state.
type StatusFilter string

const (
	StatusAll         StatusFilter = "all"
	StatusOpen        StatusFilter = "open"
	StatusAssigned    StatusFilter = "assigned"
	StatusCompleted   StatusFilter = "completed"
	StatusUnderReview StatusFilter = "under-review"
)

// DifficultyFilter selects issues by difficulty.
type DifficultyFilter string

const (
	DifficultyAll    DifficultyFilter = "all"
	DifficultyEasy   DifficultyFilter = "easy"
	DifficultyMedium DifficultyFilter = "medium"
	DifficultyHard   DifficultyFilter = "hard"
)

// Filter is the issue list input. The zero value shows everything.
type Filter struct {
	Search     string
	Status     StatusFilter
	Difficulty DifficultyFilter
}

// ParseStatusFilter parses a status filter; empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", StatusAll:
		return StatusAll, nil
	case StatusOpen, StatusAssigned, StatusCompleted, StatusUnderReview:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown status filter %q", ErrInvalidRequest, s)
	}
}

// ParseDifficultyFilter parses a difficulty filter; empty means all.
func ParseDifficultyFilter(s string) (DifficultyFilter, error) {
	switch f := DifficultyFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", DifficultyAll:
		return DifficultyAll, nil
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown difficulty filter %q", ErrInvalidRequest, s)
	}
}

// Status is the display status of an issue.
type Status string

const (
	Completed   Status = "Completed"
	UnderReview Status = "Under Review"
	Expired     Status = "Expired"
	Assigned    Status = "Assigned"
	Open        Status = "Open"
)

// DeriveStatus applies, in order: completed, under review, expired
// (assigned with a deadline in the past), assigned, open.
func DeriveStatus(issue chains.Issue, now time.Time) Status {
	switch {
	case issue.Completed:
		return Completed
	case issue.UnderReview:
		return UnderReview
	case issue.IsAssigned() && issue.Deadline > 0 && now.Unix() > issue.Deadline:
		return Expired
	case issue.IsAssigned():
		return Assigned
	default:
		return Open
	}
}

// IssueView is an issue with its derived display fields.
type IssueView struct {
	chains.Issue
	Status Status
	Repo   string
	Age    string
}

// Project filters issues, preserving their order.
func Project(issues []chains.Issue, f Filter, now time.Time) []IssueView {
	views := make([]IssueView, 0, len(issues))
	for _, issue := range issues {
		if !f.Matches(issue) {
			continue
		}
		views = append(views, View(issue, now))
	}
	return views
}

// View derives the display fields of one issue.
func View(issue chains.Issue, now time.Time) IssueView {
	return IssueView{
		Issue:  issue,
		Status: DeriveStatus(issue, now),
		Repo:   RepoFromURL(issue.TrackerURL),
		Age:    FormatAge(issue.CreatedAt, now),
	}
}

// Matches reports whether issue passes every part of the filter. Status
// filters test the raw record: an expired issue still counts as assigned.
func (f Filter) Matches(issue chains.Issue) bool {
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(issue.Description), term) &&
			!strings.Contains(strings.ToLower(issue.TrackerURL), term) {
			return false
		}
	}

	switch f.Status {
	case StatusOpen:
		if issue.Completed || issue.IsAssigned() {
			return false
		}
	case StatusAssigned:
		if issue.Completed || !issue.IsAssigned() {
			return false
		}
	case StatusCompleted:
		if !issue.Completed {
			return false
		}
	case StatusUnderReview:
		if !issue.UnderReview {
			return false
		}
	}

	switch f.Difficulty {
	case DifficultyEasy:
		return issue.Difficulty == chains.Easy
	case DifficultyMedium:
		return issue.Difficulty == chains.Medium
	case DifficultyHard:
		return issue.Difficulty == chains.Hard
	}
	return true
}

// FormatAge renders the time since createdAt (unix seconds) as
// "Just now", "5m ago", "3h ago" or "2d ago".
func FormatAge(createdAt int64, now time.Time) string {
	diff := now.Unix() - createdAt
	switch {
	case diff < 60:
		return "Just now"
	case diff < 3600:
		return fmt.Sprintf("%dm ago", diff/60)
	case diff < 86400:
		return fmt.Sprintf("%dh ago", diff/3600)
	default:
		return fmt.Sprintf("%dd ago", diff/86400)
	}
}

// RepoFromURL returns "owner/name" for a tracker URL, or "" if it is not one.
func RepoFromURL(url string) string {
	ref, _, ok := tracker.ParseIssueURL(url)
	if !ok {
		return ""
	}
	return ref.String()
}
