package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
	"github.com/naka-gawa/contrib-counter/internal/domain"
	"github.com/naka-gawa/contrib-counter/internal/marker"
)

// mockCounter is a mock implementation of the gateway.Counter interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) CountCommits(ctx context.Context, repo domain.Repository, author string) (int, error) {
	args := m.Called(ctx, repo, author)
	return args.Int(0), args.Error(1)
}

func (m *mockCounter) CountPullRequests(ctx context.Context, query string) (int, error) {
	args := m.Called(ctx, query)
	return args.Int(0), args.Error(1)
}

var (
	repoA = domain.Repository{Owner: "org", Name: "repo-a"}
	repoB = domain.Repository{Owner: "org", Name: "repo-b"}
)

func writeDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "README.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readDocument(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// TestUpdater_Run uses a table-driven approach to test the whole pipeline.
func TestUpdater_Run(t *testing.T) {
	testCases := []struct {
		name          string
		document      string
		style         marker.Style
		targets       []domain.Target
		setupMock     func(m *mockCounter)
		dryRun        bool
		expectedDoc   string
		expectWritten bool
		expectedCode  apperr.Code
	}{
		{
			name:     "bracketed region",
			document: "# Me\nCommits: <!--A_START-->0<!--A_END-->\n",
			style:    marker.StyleBracketed,
			targets:  []domain.Target{{Key: "A", Repo: repoA, Mode: domain.ModeCommits}},
			setupMock: func(m *mockCounter) {
				m.On("CountCommits", mock.Anything, repoA, "any-user").Return(42, nil)
			},
			expectedDoc:   "# Me\nCommits: <!--A_START-->42<!--A_END-->\n",
			expectWritten: true,
		},
		{
			name:     "inline emphasis with pull requests",
			document: "PRs: **7** <!--B-->\n",
			style:    marker.StyleInline,
			targets:  []domain.Target{{Key: "B", Repo: repoB, Mode: domain.ModeMergedPullRequests}},
			setupMock: func(m *mockCounter) {
				m.On("CountPullRequests", mock.Anything, "repo:org/repo-b is:pr is:merged author:any-user").Return(9, nil)
			},
			expectedDoc:   "PRs: **9** <!--B-->\n",
			expectWritten: true,
		},
		{
			name:     "several keys applied in order",
			document: "{{A}} commits, {{B}} pull requests",
			style:    marker.StylePlaceholder,
			targets: []domain.Target{
				{Key: "A", Repo: repoA, Mode: domain.ModeCommits},
				{Key: "B", Repo: repoB, Mode: domain.ModePullRequests, ExcludeDrafts: true},
			},
			setupMock: func(m *mockCounter) {
				m.On("CountCommits", mock.Anything, repoA, "any-user").Return(3, nil)
				m.On("CountPullRequests", mock.Anything, "repo:org/repo-b is:pr -is:draft author:any-user").Return(0, nil)
			},
			expectedDoc:   "3 commits, 0 pull requests",
			expectWritten: true,
		},
		{
			name:     "unchanged document is not rewritten",
			document: "<!--A_START-->5<!--A_END-->",
			style:    marker.StyleBracketed,
			targets:  []domain.Target{{Key: "A", Repo: repoA, Mode: domain.ModeCommits}},
			setupMock: func(m *mockCounter) {
				m.On("CountCommits", mock.Anything, repoA, "any-user").Return(5, nil)
			},
			expectedDoc: "<!--A_START-->5<!--A_END-->",
		},
		{
			name:     "dry run leaves the file alone",
			document: "<!--A_START-->0<!--A_END-->",
			style:    marker.StyleBracketed,
			targets:  []domain.Target{{Key: "A", Repo: repoA, Mode: domain.ModeCommits}},
			setupMock: func(m *mockCounter) {
				m.On("CountCommits", mock.Anything, repoA, "any-user").Return(8, nil)
			},
			dryRun:      true,
			expectedDoc: "<!--A_START-->0<!--A_END-->",
		},
		{
			name:     "missing marker fails before any request",
			document: "<!--A_START-->0<!--A_END-->",
			style:    marker.StyleBracketed,
			targets: []domain.Target{
				{Key: "A", Repo: repoA, Mode: domain.ModeCommits},
				{Key: "MISSING", Repo: repoB, Mode: domain.ModeCommits},
			},
			setupMock:    func(m *mockCounter) {},
			expectedDoc:  "<!--A_START-->0<!--A_END-->",
			expectedCode: apperr.CodeMarkerNotFound,
		},
		{
			name:         "duplicate marker fails",
			document:     "<!--A_START-->0<!--A_END--><!--A_START-->0<!--A_END-->",
			style:        marker.StyleBracketed,
			targets:      []domain.Target{{Key: "A", Repo: repoA, Mode: domain.ModeCommits}},
			setupMock:    func(m *mockCounter) {},
			expectedDoc:  "<!--A_START-->0<!--A_END--><!--A_START-->0<!--A_END-->",
			expectedCode: apperr.CodeDuplicateMarker,
		},
		{
			name:     "count failure leaves the document untouched",
			document: "<!--A_START-->0<!--A_END--> <!--B_START-->0<!--B_END-->",
			style:    marker.StyleBracketed,
			targets: []domain.Target{
				{Key: "A", Repo: repoA, Mode: domain.ModeCommits},
				{Key: "B", Repo: repoB, Mode: domain.ModeCommits},
			},
			setupMock: func(m *mockCounter) {
				m.On("CountCommits", mock.Anything, repoA, "any-user").Return(1, nil)
				m.On("CountCommits", mock.Anything, repoB, "any-user").Return(0, apperr.New(apperr.CodeAuth, "bad credentials"))
			},
			expectedDoc:  "<!--A_START-->0<!--A_END--> <!--B_START-->0<!--B_END-->",
			expectedCode: apperr.CodeAuth,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			path := writeDocument(t, tc.document)
			counter := new(mockCounter)
			tc.setupMock(counter)
			updater := NewUpdater(counter, log.New(io.Discard))

			// --- Act ---
			result, err := updater.Run(context.Background(), Request{
				Username: "any-user",
				Document: path,
				Style:    tc.style,
				Targets:  tc.targets,
				DryRun:   tc.dryRun,
			})

			// --- Assert ---
			assert.Equal(t, tc.expectedDoc, readDocument(t, path))
			if tc.expectedCode != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectedCode, apperr.GetCode(err))
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expectWritten, result.Written)
				assert.Len(t, result.Counts, len(tc.targets))
			}
			counter.AssertExpectations(t)
		})
	}
}

func TestUpdater_Run_DryRunReturnsPatchedText(t *testing.T) {
	path := writeDocument(t, "<!--A_START-->0<!--A_END-->")
	counter := new(mockCounter)
	counter.On("CountCommits", mock.Anything, repoA, "u").Return(4, nil)

	result, err := NewUpdater(counter, log.New(io.Discard)).Run(context.Background(), Request{
		Username: "u",
		Document: path,
		Style:    marker.StyleBracketed,
		Targets:  []domain.Target{{Key: "A", Repo: repoA, Mode: domain.ModeCommits}},
		DryRun:   true,
	})

	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.Written)
	assert.Equal(t, "<!--A_START-->4<!--A_END-->", result.Text)
}

func TestUpdater_Count_ErrorNamesKeyAndRepository(t *testing.T) {
	counter := new(mockCounter)
	counter.On("CountCommits", mock.Anything, repoA, "u").Return(0, errors.New("connection reset"))

	_, err := NewUpdater(counter, log.New(io.Discard)).Count(context.Background(), "u",
		[]domain.Target{{Key: "A_COMMITS", Repo: repoA, Mode: domain.ModeCommits}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "A_COMMITS")
	assert.Contains(t, err.Error(), "org/repo-a")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestUpdater_Run_MissingDocument(t *testing.T) {
	counter := new(mockCounter)
	_, err := NewUpdater(counter, log.New(io.Discard)).Run(context.Background(), Request{
		Document: filepath.Join(t.TempDir(), "missing.md"),
		Style:    marker.StyleBracketed,
	})
	assert.Equal(t, apperr.CodeIO, apperr.GetCode(err))
}

func TestSummarize(t *testing.T) {
	testCases := []struct {
		name     string
		values   []int
		expected domain.Summary
	}{
		{name: "even number of counts", values: []int{10, 2, 5, 0}, expected: domain.Summary{Total: 17, Median: 3.5, Max: 10}},
		{name: "largest count last", values: []int{1, 3, 250}, expected: domain.Summary{Total: 254, Median: 3, Max: 250}},
		{name: "all zero", values: []int{0, 0}, expected: domain.Summary{}},
		{name: "no counts", expected: domain.Summary{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var counts []domain.Count
			for _, v := range tc.values {
				counts = append(counts, domain.Count{Value: v})
			}
			assert.Equal(t, tc.expected, Summarize(counts))
		})
	}
}
