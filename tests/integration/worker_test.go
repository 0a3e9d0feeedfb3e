//go:build integration

// Package integration contains end-to-end tests that drive a real
// worker event loop over a socketpair, forking real child processes.
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-exec-worker/internal/kvmsg"
	"github.com/randomizedcoder/go-exec-worker/internal/worker"
)

// startWorker runs a worker loop in-process on one end of a socketpair
// and returns the master-side descriptor plus the loop's exit channel.
func startWorker(t *testing.T) (int, chan int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	w, err := worker.New(fds[0], worker.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	exit := make(chan int, 1)
	go func() { exit <- w.Run() }()
	return fds[1], exit
}

func sendJob(t *testing.T, fd int, pairs ...string) {
	t.Helper()
	var v kvmsg.KVVec
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Add(pairs[i], pairs[i+1])
	}
	if _, err := unix.Write(fd, v.Encode()); err != nil {
		t.Fatalf("send job: %v", err)
	}
}

// readResponse reads frames until one that is not a log frame arrives.
func readResponse(t *testing.T, fd int, dec *kvmsg.Decoder, timeout time.Duration) kvmsg.KVVec {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if vec, ok := dec.Next(); ok {
			if _, isLog := vec.Get("log"); isLog {
				t.Logf("worker log: %s", vec.GetString("log"))
				continue
			}
			return vec
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			t.Fatal("no response within deadline")
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfd, int(remain.Milliseconds())); err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		if pfd[0].Revents&unix.POLLIN == 0 {
			t.Fatal("no response within deadline")
		}
		if _, err := dec.ReadFrom(fd); err != nil && err != unix.EAGAIN {
			t.Fatalf("read: %v", err)
		}
	}
}

// shutdown closes the master socket and waits for the worker loop to
// return its exit code.
func shutdown(t *testing.T, fd int, exit chan int) int {
	t.Helper()

	unix.Close(fd)
	select {
	case code := <-exit:
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit after master disconnect")
		return -1
	}
}

// =============================================================================
// Scenarios
// =============================================================================

func TestWorkerSimpleSuccess(t *testing.T) {
	fd, exit := startWorker(t)
	dec := kvmsg.NewDecoder(0)

	sendJob(t, fd, "command", "/bin/echo hi", "job_id", "7", "timeout", "10")

	resp := readResponse(t, fd, dec, 5*time.Second)
	if got := resp.GetString("job_id"); got != "7" {
		t.Errorf("job_id = %q, want 7", got)
	}
	if got := resp.GetString("exited_ok"); got != "1" {
		t.Errorf("exited_ok = %q, want 1", got)
	}
	if got := resp.GetString("wait_status"); got != "0" {
		t.Errorf("wait_status = %q, want 0", got)
	}
	if got := resp.GetString("outstd"); got != "hi\n" {
		t.Errorf("outstd = %q, want hi\\n", got)
	}
	if got, ok := resp.Get("outerr"); !ok || len(got) != 0 {
		t.Errorf("outerr = (%q, %v), want present and empty", got, ok)
	}
	if rt, err := strconv.ParseFloat(resp.GetString("runtime"), 64); err != nil || rt < 0 {
		t.Errorf("runtime = %q", resp.GetString("runtime"))
	}

	if code := shutdown(t, fd, exit); code != 0 {
		t.Errorf("worker exit code = %d, want 0", code)
	}
}

func TestWorkerNonzeroExit(t *testing.T) {
	fd, exit := startWorker(t)
	dec := kvmsg.NewDecoder(0)

	sendJob(t, fd, "command", "/bin/sh -c 'exit 3'", "job_id", "8")

	resp := readResponse(t, fd, dec, 5*time.Second)
	if got := resp.GetString("exited_ok"); got != "1" {
		t.Errorf("exited_ok = %q, want 1 (worker ran the command; status is the master's business)", got)
	}
	status, err := strconv.Atoi(resp.GetString("wait_status"))
	if err != nil {
		t.Fatalf("wait_status = %q", resp.GetString("wait_status"))
	}
	ws := unix.WaitStatus(status)
	if !ws.Exited() || ws.ExitStatus() != 3 {
		t.Errorf("wait_status %d does not encode exit 3", status)
	}

	shutdown(t, fd, exit)
}

func TestWorkerTimeout(t *testing.T) {
	fd, exit := startWorker(t)
	dec := kvmsg.NewDecoder(0)

	start := time.Now()
	sendJob(t, fd, "command", "/bin/sleep 10", "job_id", "9", "timeout", "1")

	resp := readResponse(t, fd, dec, 5*time.Second)
	elapsed := time.Since(start)

	if got := resp.GetString("exited_ok"); got != "0" {
		t.Errorf("exited_ok = %q, want 0", got)
	}
	if got := resp.GetString("error_code"); got != strconv.Itoa(int(unix.ETIME)) {
		t.Errorf("error_code = %q, want %d", got, int(unix.ETIME))
	}
	if elapsed < time.Second {
		t.Errorf("timeout fired after %v, before the 1s deadline", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timeout response took %v", elapsed)
	}

	shutdown(t, fd, exit)
}

func TestWorkerEnvStripping(t *testing.T) {
	fd, exit := startWorker(t)
	dec := kvmsg.NewDecoder(0)

	sendJob(t, fd,
		"command", "/bin/echo hi",
		"job_id", "10",
		"env", "HOME=/x",
		"env", "USER=nobody",
		"check_name", "load",
	)

	resp := readResponse(t, fd, dec, 5*time.Second)
	if _, ok := resp.Get("env"); ok {
		t.Error("env pair echoed in response")
	}
	if got := resp.GetString("check_name"); got != "load" {
		t.Errorf("check_name = %q, want load", got)
	}
	if got := resp.GetString("job_id"); got != "10" {
		t.Errorf("job_id = %q, want 10", got)
	}

	shutdown(t, fd, exit)
}

func TestWorkerDefaultTimeoutApplied(t *testing.T) {
	fd, exit := startWorker(t)
	dec := kvmsg.NewDecoder(0)

	// timeout=0 must not mean "immediately": the 60s default applies
	// and a quick command completes normally.
	sendJob(t, fd, "command", "/bin/echo ok", "job_id", "11", "timeout", "0")

	resp := readResponse(t, fd, dec, 5*time.Second)
	if got := resp.GetString("exited_ok"); got != "1" {
		t.Errorf("exited_ok = %q, want 1", got)
	}

	shutdown(t, fd, exit)
}

func TestWorkerMasterDisconnectMidFlight(t *testing.T) {
	fd, exit := startWorker(t)

	for i := 1; i <= 3; i++ {
		sendJob(t, fd, "command", "/bin/sleep 30", "job_id", strconv.Itoa(100+i), "timeout", "60")
	}

	// Give the loop a moment to spawn all three.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	code := shutdown(t, fd, exit)
	elapsed := time.Since(start)

	if code != 0 {
		t.Errorf("worker exit code = %d, want 0", code)
	}
	// Emergency shutdown sleeps twice for a second; anything well
	// beyond that means the sleeps were waiting on children.
	if elapsed > 5*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
}

func TestWorkerMultipleJobsInterleaved(t *testing.T) {
	fd, exit := startWorker(t)
	dec := kvmsg.NewDecoder(0)

	ids := map[string]bool{}
	for i := 1; i <= 5; i++ {
		sendJob(t, fd, "command", "/bin/echo hi", "job_id", strconv.Itoa(i), "timeout", "10")
	}
	for i := 0; i < 5; i++ {
		resp := readResponse(t, fd, dec, 5*time.Second)
		ids[resp.GetString("job_id")] = true
	}

	for i := 1; i <= 5; i++ {
		if !ids[strconv.Itoa(i)] {
			t.Errorf("no response for job %d", i)
		}
	}

	shutdown(t, fd, exit)
}
