// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/taskfleet/taskfleet/lib/clock"
)

// Log file names under the log directory. Stdout goes to the output
// log; stderr goes to both the output log (prefixed) and the error
// log, so the error log alone is usable as failure evidence.
const (
	OutputLogName = "task_output.log"
	ErrorLogName  = "task_error.log"
)

// Runner spawns task commands with their output captured to log files.
// One Runner is reused across cycles; each Start produces an
// independent Execution.
type Runner struct {
	// WorkDir is the working directory for the task process.
	WorkDir string

	// LogDir receives the captured output and error logs.
	LogDir string

	// Clock drives kill grace periods. Defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// LogPaths returns the output and error log paths this runner captures
// into.
func (r *Runner) LogPaths() (outputPath, errorPath string) {
	return filepath.Join(r.LogDir, OutputLogName), filepath.Join(r.LogDir, ErrorLogName)
}

// Start spawns the command in its own process group with stdout and
// stderr pumped into the log files. The command runs with the worker's
// environment plus the task's env map appended; it is executed
// verbatim, with no shell layer.
//
// On spawn failure the error is appended to both log files (so it can
// be uploaded as failure evidence) and returned; the caller reports
// this as a task failure, not a worker fault.
func (r *Runner) Start(command []string, env map[string]string) (*Execution, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("task command is empty")
	}

	outputPath, errorPath := r.LogPaths()
	outputLog, err := openLogFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("opening output log: %w", err)
	}
	errorLog, err := openLogFile(errorPath)
	if err != nil {
		outputLog.Close()
		return nil, fmt.Errorf("opening error log: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = r.WorkDir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for name, value := range env {
			cmd.Env = append(cmd.Env, name+"="+value)
		}
	}

	// The task runs in its own process group so that a single signal
	// to the negative pgid reaches the task and every descendant it
	// spawned. Without this, killing only the direct child leaves
	// grandchildren holding the log pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		outputLog.Close()
		errorLog.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		outputLog.Close()
		errorLog.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}

	if err := cmd.Start(); err != nil {
		// Capture the spawn error as log evidence before surfacing it.
		line := fmt.Sprintf("taskfleet: spawn failed: %v\n", err)
		outputLog.WriteString("ERROR " + line)
		errorLog.WriteString(line)
		outputLog.Close()
		errorLog.Close()
		return nil, fmt.Errorf("spawning task command %q: %w", command[0], err)
	}

	execution := &Execution{
		StartTime:     clk.Now(),
		OutputLogPath: outputPath,
		ErrorLogPath:  errorPath,
		clock:         clk,
		logger:        r.Logger,
		processGroup:  cmd.Process.Pid,
		done:          make(chan struct{}),
	}

	// Both streams are drained concurrently with the process so a
	// task that fills one pipe cannot deadlock against the other.
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		pumpLines(stdout, func(line string) {
			outputLog.WriteString(line)
		})
	}()
	go func() {
		defer pumps.Done()
		pumpLines(stderr, func(line string) {
			outputLog.WriteString("ERROR " + line)
			errorLog.WriteString(line)
		})
	}()

	go func() {
		pumps.Wait()
		waitErr := cmd.Wait()
		outputLog.Close()
		errorLog.Close()
		execution.finish(waitErr)
	}()

	return execution, nil
}

// pumpLines copies reader to write one line at a time. The final
// unterminated line (if any) is still delivered.
func pumpLines(reader io.Reader, write func(line string)) {
	buffered := bufio.NewReader(reader)
	for {
		line, err := buffered.ReadString('\n')
		if line != "" {
			write(line)
		}
		if err != nil {
			return
		}
	}
}

// logFile is an append-mode log target safe for concurrent line
// writes (both pumps write to the output log).
type logFile struct {
	mu   sync.Mutex
	file *os.File
}

func openLogFile(path string) (*logFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &logFile{file: file}, nil
}

func (f *logFile) WriteString(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Log capture is best-effort: a full disk must not wedge the pump
	// goroutines, so write errors are dropped here and surface later
	// when the artifact upload reads the file.
	_, _ = f.file.WriteString(s)
}

func (f *logFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
