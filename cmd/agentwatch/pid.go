package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tools.zach/dev/agentwatch/internal/paths"
)

// ///////////////////////////////////////////////
// PID File
// ///////////////////////////////////////////////

// pidFile is the locked PID file held by a running serve process. The token
// proves ownership so release never deletes a file another instance wrote.
type pidFile struct {
	path  string
	token string
	f     *os.File
}

// newToken returns 16 random hex characters.
func newToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// acquirePID locks the PID file and writes "PID:TOKEN" to it. It fails when
// another serve process holds the lock, naming that process when its PID
// can be read.
func acquirePID(dirs paths.DataDir) (*pidFile, error) {
	path := dirs.PID()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		if pid := readPID(path); pid > 0 {
			return nil, fmt.Errorf("serve already running (pid %d)", pid)
		}
		return nil, fmt.Errorf("serve already running: %w", err)
	}

	p := &pidFile{path: path, token: newToken(), f: f}
	if err := f.Truncate(0); err != nil {
		p.release()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), p.token); err != nil {
		p.release()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return p, nil
}

// release unlocks and closes the PID file, then removes it if it still
// carries this instance's token.
func (p *pidFile) release() {
	if p.f != nil {
		_ = unlock(p.f)
		p.f.Close()
		p.f = nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	if _, token, ok := strings.Cut(string(data), ":"); ok && token == p.token {
		os.Remove(p.path)
	}
}

// readPID returns the PID stored in the file at path, or 0.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	head, _, _ := strings.Cut(string(data), ":")
	pid, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0
	}
	return pid
}
