package worker

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	shellwords "github.com/mattn/go-shellwords"
	"golang.org/x/sys/unix"
)

// shellMetaChars force the command line through /bin/sh -c instead of
// a direct exec.
const shellMetaChars = "|&;<>()`$*?~{}[]#\n"

// commandArgv turns a textual command line into an argv. Plain
// commands are split and exec'd directly; anything with shell
// metacharacters, or that the splitter rejects, runs under /bin/sh -c.
func commandArgv(cmdline string) ([]string, error) {
	if strings.ContainsAny(cmdline, shellMetaChars) {
		return []string{"/bin/sh", "-c", cmdline}, nil
	}
	argv, err := shellwords.Parse(cmdline)
	if err != nil || len(argv) == 0 {
		return []string{"/bin/sh", "-c", cmdline}, nil
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", argv[0], err)
	}
	argv[0] = path
	return argv, nil
}

// startCmd spawns the job's child process with a pipe each for stdout
// and stderr, places it in its own process group so it can be killed
// as a group, registers both read ends with the multiplexer, and
// indexes the job by PID.
func (w *Worker) startCmd(j *Job) error {
	argv, err := commandArgv(j.Cmd)
	if err != nil {
		return err
	}

	var outp, errp [2]int
	if err := unix.Pipe2(outp[:], unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := unix.Pipe2(errp[:], unix.O_CLOEXEC); err != nil {
		unix.Close(outp[0])
		unix.Close(outp[1])
		return fmt.Errorf("stderr pipe: %w", err)
	}

	null, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		closePipes(outp, errp)
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}

	pid, err := syscall.ForkExec(argv[0], argv, &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{uintptr(null), uintptr(outp[1]), uintptr(errp[1])},
		Sys: &syscall.SysProcAttr{
			Setpgid: true,
		},
	})
	unix.Close(null)
	unix.Close(outp[1])
	unix.Close(errp[1])
	if err != nil {
		unix.Close(outp[0])
		unix.Close(errp[0])
		return fmt.Errorf("fork/exec: %w", err)
	}

	// The children must never block us, even if a plugin exits without
	// draining its pipes.
	unix.SetNonblock(outp[0], true)
	unix.SetNonblock(errp[0], true)

	j.PID = pid
	j.OutStd.fd = outp[0]
	j.OutErr.fd = errp[0]

	if err := w.iobs.Register(j.OutStd.fd, stdoutTag{job: j}); err != nil {
		w.wlog("Failed to register iobroker for stdout: %v", err)
	}
	if err := w.iobs.Register(j.OutErr.fd, stderrTag{job: j}); err != nil {
		w.wlog("Failed to register iobroker for stderr: %v", err)
	}
	w.jobs.insert(j)

	return nil
}

func closePipes(outp, errp [2]int) {
	unix.Close(outp[0])
	unix.Close(outp[1])
	unix.Close(errp[0])
	unix.Close(errp[1])
}
