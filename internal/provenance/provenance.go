// Package provenance derives the recorder identity string embedded in
// tape.SessionInfo.Recorder: a short commit hash plus hostname,
// letting a tape reviewer trace which build of termvcr made a
// recording. It shells out to no git binary; the repository is opened
// directly via go-git.
package provenance

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/google/uuid"
)

// shortHashLen matches git's default abbreviated hash length.
const shortHashLen = 7

// RecorderID returns "<short-commit>@<host>". When dir is not inside
// a git worktree (e.g. a release binary run from an extracted
// tarball) or HEAD cannot be resolved, the commit component falls
// back to a short random uuid rather than a fixed literal, so
// recordings made by two such installs are still distinguishable.
func RecorderID(dir string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	commit := commitFor(dir)
	return fmt.Sprintf("%s@%s", commit, host)
}

func commitFor(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return unknownCommit()
	}
	head, err := repo.Head()
	if err != nil {
		return unknownCommit()
	}
	return abbreviate(head.Hash())
}

// unknownCommit produces "unknown-<8 hex chars>" so the fallback
// stays greppable while still being unique per process.
func unknownCommit() string {
	return "unknown-" + uuid.NewString()[:8]
}

func abbreviate(h plumbing.Hash) string {
	s := h.String()
	if len(s) < shortHashLen {
		return s
	}
	return s[:shortHashLen]
}
